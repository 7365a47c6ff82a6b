package device

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/tonylturner/linkshim/internal/diag"
)

// Faults makes the simulator misbehave so failure paths can be exercised.
type Faults struct {
	// Drop suppresses every response to these opcodes.
	Drop []diag.Opcode
	// Corrupt zeroes the checked region of responses to these opcodes.
	Corrupt []diag.Opcode
	// DropEveryN drops every Nth response overall.
	DropEveryN int
	// DropPct drops responses with this probability (0..1).
	DropPct float64
	Delay   time.Duration
	Jitter  time.Duration
	Seed    int64
}

type faultAction struct {
	drop    bool
	corrupt bool
	delay   time.Duration
}

type faultState struct {
	mu      sync.Mutex
	drop    map[diag.Opcode]bool
	corrupt map[diag.Opcode]bool
	cfg     Faults
	count   int
	rng     *rand.Rand
}

func newFaultState(cfg Faults) *faultState {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fs := &faultState{
		drop:    make(map[diag.Opcode]bool),
		corrupt: make(map[diag.Opcode]bool),
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
	}
	for _, op := range cfg.Drop {
		fs.drop[op] = true
	}
	for _, op := range cfg.Corrupt {
		fs.corrupt[op] = true
	}
	return fs
}

func (f *faultState) next(op diag.Opcode) faultAction {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count++
	action := faultAction{
		drop:    f.drop[op],
		corrupt: f.corrupt[op],
		delay:   f.cfg.Delay,
	}
	if f.cfg.Jitter > 0 {
		action.delay += time.Duration(f.rng.Int63n(int64(f.cfg.Jitter) + 1))
	}
	if f.cfg.DropEveryN > 0 && f.count%f.cfg.DropEveryN == 0 {
		action.drop = true
	}
	if f.cfg.DropPct > 0 && f.rng.Float64() < f.cfg.DropPct {
		action.drop = true
	}
	return action
}

// corrupt zeroes everything after the echoed header.
func corrupt(payload []byte) {
	for i := diag.HeaderLen; i < len(payload); i++ {
		payload[i] = 0
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
