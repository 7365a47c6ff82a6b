// Package diag encodes diagnostic requests carried in 802.11 action frames and
// validates the device's responses.
//
// Payload layout (offsets from the start of the action frame body):
//
//	[ACTION(2, LE) = 0x0017][SELECTOR(2, LE)][ARGS...]
package diag

import (
	"fmt"
	"strings"
)

// Opcode names one diagnostic command.
type Opcode int

const (
	OpPosition Opcode = iota
	OpUptime
	OpAttest
	OpModelInfo
	OpMemRead
	OpMemWrite
	OpCredentialReset
)

// Selectors carried in bytes [2:4] of a request.
const (
	SelPosition             uint16 = 0x0000
	SelUptime               uint16 = 0x0001
	SelAttest               uint16 = 0x0002
	SelModelInfo            uint16 = 0x0003
	SelMemRead              uint16 = 0x0005
	SelMemWrite             uint16 = 0x0006
	SelCredentialReset      uint16 = 0x0008
	SelCredentialResetFinal uint16 = 0x0010
)

var opcodeNames = map[Opcode]string{
	OpPosition:        "POSITION",
	OpUptime:          "UPTIME",
	OpAttest:          "ATTEST",
	OpModelInfo:       "MODEL_INFO",
	OpMemRead:         "MEM_READ",
	OpMemWrite:        "MEM_WRITE",
	OpCredentialReset: "CREDENTIAL_RESET",
}

// aliases accepted by ParseOpcode besides the canonical names.
var opcodeAliases = map[string]Opcode{
	"DMA_IN":    OpMemRead,
	"DMAI":      OpMemRead,
	"DMA_OUT":   OpMemWrite,
	"DMAO":      OpMemWrite,
	"PSK_RESET": OpCredentialReset,
}

// Opcodes lists every opcode in run order.
var Opcodes = []Opcode{OpPosition, OpUptime, OpAttest, OpModelInfo, OpMemRead, OpMemWrite, OpCredentialReset}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", int(o))
}

// ParseOpcode accepts canonical names in any case, with '-' or '_'.
func ParseOpcode(name string) (Opcode, error) {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for op, n := range opcodeNames {
		if n == key {
			return op, nil
		}
	}
	if op, ok := opcodeAliases[key]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown diagnostic opcode %q", name)
}

// Selector returns the primary selector of o.
func (o Opcode) Selector() uint16 {
	switch o {
	case OpPosition:
		return SelPosition
	case OpUptime:
		return SelUptime
	case OpAttest:
		return SelAttest
	case OpModelInfo:
		return SelModelInfo
	case OpMemRead:
		return SelMemRead
	case OpMemWrite:
		return SelMemWrite
	case OpCredentialReset:
		return SelCredentialReset
	default:
		return 0xffff
	}
}

// OpcodeForSelector maps a request selector back to its opcode.
func OpcodeForSelector(sel uint16) (Opcode, bool) {
	switch sel {
	case SelPosition:
		return OpPosition, true
	case SelUptime:
		return OpUptime, true
	case SelAttest:
		return OpAttest, true
	case SelModelInfo:
		return OpModelInfo, true
	case SelMemRead:
		return OpMemRead, true
	case SelMemWrite:
		return OpMemWrite, true
	case SelCredentialReset, SelCredentialResetFinal:
		return OpCredentialReset, true
	default:
		return 0, false
	}
}

// ExpectedResponses is how many matching frames a step for o waits for.
func (o Opcode) ExpectedResponses() int {
	switch o {
	case OpAttest, OpCredentialReset:
		return 0
	case OpMemWrite:
		return 2
	default:
		return 1
	}
}
