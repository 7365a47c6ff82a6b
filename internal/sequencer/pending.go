package sequencer

import (
	"errors"
	"fmt"
)

// ErrRequestPending is returned when a step is armed while another is pending.
var ErrRequestPending = errors.New("sequencer: a request is already pending")

type slotState int

const (
	slotIdle slotState = iota
	slotAwaitingOne
	slotAwaitingFirstOfTwo
	slotAwaitingSecond
)

// pending is the single outstanding-response slot. Correlation is implicit:
// the next matching frame belongs to whatever step is armed.
type pending struct {
	state slotState
	check Check
	first []byte // acknowledgement seen in slotAwaitingSecond
}

func (p *pending) arm(step *Step) error {
	if p.state != slotIdle {
		return ErrRequestPending
	}
	switch step.Expect {
	case 1:
		p.state = slotAwaitingOne
	case 2:
		p.state = slotAwaitingFirstOfTwo
	default:
		return fmt.Errorf("sequencer: step %s expects %d responses", step.Name, step.Expect)
	}
	p.check = step.Check
	p.first = nil
	return nil
}

func (p *pending) idle() bool { return p.state == slotIdle }

// offer hands one matching response to the slot. done reports that the
// armed step resolved; err is the check's verdict once done.
func (p *pending) offer(payload []byte) (done bool, err error) {
	switch p.state {
	case slotIdle:
		return false, nil
	case slotAwaitingFirstOfTwo:
		p.first = payload
		p.state = slotAwaitingSecond
		return false, nil
	case slotAwaitingOne, slotAwaitingSecond:
		check := p.check
		p.reset()
		if check == nil {
			return true, nil
		}
		return true, check(payload)
	default:
		return false, nil
	}
}

func (p *pending) reset() {
	p.state = slotIdle
	p.check = nil
	p.first = nil
}
