package sequencer

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tonylturner/linkshim/internal/diag"
)

// State is a step's position in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateInFlight
	StateAdvanced
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "QUEUED"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateAdvanced:
		return "ADVANCED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// Check validates the response that completes a step.
type Check func(payload []byte) error

// Step is one diagnostic exchange. Requests are sent in order; Expect is the
// number of matching responses to wait for (0, 1 or 2). With two, the first is
// an acknowledgement and only the second reaches Check.
type Step struct {
	Name     string
	Opcode   diag.Opcode
	Requests [][]byte
	Expect   int
	Check    Check
}

// Plan describes the steps to build.
type Plan struct {
	Opcodes      []diag.Opcode
	Expectations diag.Expectations
	Probe        []byte
	Rand         *rand.Rand
}

// BuildSteps turns a plan into the ordered step queue.
func BuildSteps(p Plan) ([]Step, error) {
	if len(p.Opcodes) == 0 {
		return nil, fmt.Errorf("no steps to run")
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(1))
	}
	steps := make([]Step, 0, len(p.Opcodes))
	for _, op := range p.Opcodes {
		step, err := NewStep(op, p)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// NewStep builds the step for one opcode.
func NewStep(op diag.Opcode, p Plan) (Step, error) {
	step := Step{
		Name:   strings.ToLower(op.String()),
		Opcode: op,
		Expect: op.ExpectedResponses(),
	}
	exp := p.Expectations

	switch op {
	case diag.OpPosition:
		step.Requests = [][]byte{diag.PositionRequest()}
		step.Check = exp.ValidatePosition
	case diag.OpUptime:
		step.Requests = [][]byte{diag.UptimeRequest()}
		step.Check = exp.ValidateUptime
	case diag.OpAttest:
	case diag.OpModelInfo:
		step.Requests = [][]byte{diag.ModelInfoRequest()}
		step.Check = exp.ValidateModelInfo
	case diag.OpMemRead:
		if len(p.Probe) == 0 {
			return Step{}, fmt.Errorf("MEM_READ needs a non-empty probe")
		}
		probe := append([]byte(nil), p.Probe...)
		step.Requests = [][]byte{diag.MemReadRequest(probe)}
		step.Check = func(payload []byte) error { return diag.ValidateMemRead(payload, probe) }
	case diag.OpMemWrite:
		rng := p.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		slot := uint64(rng.Intn(diag.MemWriteSlots))
		value := diag.MemWriteTag | uint64(rng.Int63n(1<<31+1))
		req := diag.MemWriteRequest(slot, value)
		step.Requests = [][]byte{req, req}
		step.Check = func(payload []byte) error { return diag.ValidateMemWrite(payload, value) }
	case diag.OpCredentialReset:
		step.Requests = diag.CredentialResetRequests()
	default:
		return Step{}, fmt.Errorf("unsupported opcode %s", op)
	}
	return step, nil
}
