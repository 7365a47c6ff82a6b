package diag

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tonylturner/linkshim/internal/dot11"
)

// ActionCode is the fixed first word of every diagnostic payload.
const ActionCode uint16 = 0x0017

// HeaderLen is the action word plus the selector.
const HeaderLen = 4

// Argument sizes.
const (
	memReadArgsLen    = 8  // u32 in-len, u32 out-len
	memWriteArgsLen   = 16 // u64 slot, u64 value
	credResetArgsLen  = 16
	credFinalArgsLen  = 4
	memReadLenPadding = 8
)

// MemWriteSlots is the number of writable slots; slot indexes are 0..MemWriteSlots-1.
const MemWriteSlots = 19

// MemWriteTag is ORed into every MEM_WRITE value.
const MemWriteTag uint64 = 0x1337babe0000

// Encode builds a diagnostic payload for selector with args appended.
func Encode(selector uint16, args []byte) []byte {
	out := make([]byte, HeaderLen+len(args))
	binary.LittleEndian.PutUint16(out[0:2], ActionCode)
	binary.LittleEndian.PutUint16(out[2:4], selector)
	copy(out[HeaderLen:], args)
	return out
}

// PositionRequest asks for the device's coordinates.
func PositionRequest() []byte { return Encode(SelPosition, nil) }

// UptimeRequest asks for the device's uptime banner.
func UptimeRequest() []byte { return Encode(SelUptime, nil) }

// ModelInfoRequest asks for the device's identity strings.
func ModelInfoRequest() []byte { return Encode(SelModelInfo, nil) }

// MemReadRequest sends probe for the device to echo back. Both declared
// lengths are len(probe)+8.
func MemReadRequest(probe []byte) []byte {
	args := make([]byte, memReadArgsLen+len(probe))
	n := uint32(len(probe) + memReadLenPadding)
	binary.LittleEndian.PutUint32(args[0:4], n)
	binary.LittleEndian.PutUint32(args[4:8], n)
	copy(args[memReadArgsLen:], probe)
	return Encode(SelMemRead, args)
}

// MemWriteRequest sets slot to value. The harness sends it twice.
func MemWriteRequest(slot, value uint64) []byte {
	args := make([]byte, memWriteArgsLen)
	binary.LittleEndian.PutUint64(args[0:8], slot)
	binary.LittleEndian.PutUint64(args[8:16], value)
	return Encode(SelMemWrite, args)
}

// CredentialResetRequests returns the two zero-filled reset requests in send order.
func CredentialResetRequests() [][]byte {
	return [][]byte{
		Encode(SelCredentialReset, make([]byte, credResetArgsLen)),
		Encode(SelCredentialResetFinal, make([]byte, credFinalArgsLen)),
	}
}

// Request is a decoded diagnostic payload.
type Request struct {
	Opcode   Opcode
	Selector uint16
	Args     []byte

	// MEM_READ
	InLen, OutLen uint32
	Probe         []byte

	// MEM_WRITE
	Slot, Value uint64
}

// ParseRequest decodes a diagnostic payload back into its opcode and arguments.
func ParseRequest(payload []byte) (Request, error) {
	if len(payload) < HeaderLen {
		return Request{}, fmt.Errorf("diagnostic payload too short: got %d bytes, minimum is %d", len(payload), HeaderLen)
	}
	if code := binary.LittleEndian.Uint16(payload[0:2]); code != ActionCode {
		return Request{}, fmt.Errorf("invalid action code: got 0x%04X, expected 0x%04X", code, ActionCode)
	}

	req := Request{
		Selector: binary.LittleEndian.Uint16(payload[2:4]),
		Args:     payload[HeaderLen:],
	}
	op, ok := OpcodeForSelector(req.Selector)
	if !ok {
		return Request{}, fmt.Errorf("unknown selector 0x%04X", req.Selector)
	}
	req.Opcode = op

	switch op {
	case OpMemRead:
		if len(req.Args) < memReadArgsLen {
			return Request{}, fmt.Errorf("MEM_READ arguments too short: got %d bytes, expected at least %d", len(req.Args), memReadArgsLen)
		}
		req.InLen = binary.LittleEndian.Uint32(req.Args[0:4])
		req.OutLen = binary.LittleEndian.Uint32(req.Args[4:8])
		req.Probe = req.Args[memReadArgsLen:]
	case OpMemWrite:
		if len(req.Args) < memWriteArgsLen {
			return Request{}, fmt.Errorf("MEM_WRITE arguments too short: got %d bytes, expected %d", len(req.Args), memWriteArgsLen)
		}
		req.Slot = binary.LittleEndian.Uint64(req.Args[0:8])
		req.Value = binary.LittleEndian.Uint64(req.Args[8:16])
	}
	return req, nil
}

// Fixed protocol addresses.
var (
	DefaultDeviceAddr  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	DefaultHarnessAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x01, 0x00}
)

// Addresses is the address triple of diagnostic traffic. Requests go to
// Device from Harness with Harness as the network identifier; responses are
// action frames addressed to Harness.
type Addresses struct {
	Device  net.HardwareAddr
	Harness net.HardwareAddr
}

// DefaultAddresses returns the fixed protocol addresses.
func DefaultAddresses() Addresses {
	return Addresses{Device: DefaultDeviceAddr, Harness: DefaultHarnessAddr}
}

// RequestFrame wraps a diagnostic payload in a radiotap + action frame.
func (a Addresses) RequestFrame(payload []byte) ([]byte, error) {
	return dot11.BuildAction(dot11.Header{Dst: a.Device, Src: a.Harness, BSSID: a.Harness}, payload)
}

// IsResponse reports whether f is a diagnostic reply for the harness.
func (a Addresses) IsResponse(f dot11.Frame) bool {
	return f.IsAction() && dot11.SameAddr(f.Dst, a.Harness)
}

// IsRequest reports whether f is a diagnostic request for the device.
func (a Addresses) IsRequest(f dot11.Frame) bool {
	return f.IsAction() && dot11.SameAddr(f.Dst, a.Device)
}
