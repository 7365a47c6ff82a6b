// Package device simulates the remote embedded device: it answers diagnostic
// requests received on a radio endpoint with responses that satisfy the
// harness checks.
package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tonylturner/linkshim/internal/diag"
	"github.com/tonylturner/linkshim/internal/dot11"
	"github.com/tonylturner/linkshim/internal/logging"
	"github.com/tonylturner/linkshim/internal/radio"
)

// Identity is the content the simulated device reports.
type Identity struct {
	Position string
	Uptime   string
	Model    string
}

// DefaultIdentity satisfies diag.DefaultExpectations.
func DefaultIdentity() Identity {
	return Identity{
		Position: "lat 45.0421 lon 30.5234 alt 112m",
		Uptime:   "Uptime 3d 04:12:55",
		Model:    "blyatcopter mk2 / vladblade fc 1.4 / Red Star Linux 3.0",
	}
}

// Options configures a Simulator.
type Options struct {
	Addresses diag.Addresses
	Identity  Identity
	Faults    Faults
	Logger    *logging.Logger
}

// Stats counts simulator activity.
type Stats struct {
	Requests  uint64
	Replies   uint64
	Dropped   uint64
	Malformed uint64
	Resets    uint64
}

// Simulator answers diagnostic requests on one endpoint.
type Simulator struct {
	ep     radio.Endpoint
	opts   Options
	log    *logging.Logger
	faults *faultState

	mu     sync.Mutex
	memory [diag.MemWriteSlots]uint64

	requests  atomic.Uint64
	replies   atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
	resets    atomic.Uint64
}

// New creates a simulator on ep. Zero-valued options take the protocol defaults.
func New(ep radio.Endpoint, opts Options) *Simulator {
	if opts.Addresses.Device == nil || opts.Addresses.Harness == nil {
		opts.Addresses = diag.DefaultAddresses()
	}
	if opts.Identity == (Identity{}) {
		opts.Identity = DefaultIdentity()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Simulator{
		ep:     ep,
		opts:   opts,
		log:    opts.Logger.Named("device"),
		faults: newFaultState(opts.Faults),
	}
}

// Run answers requests until ctx is done or the endpoint closes. A closed
// endpoint without a recorded cause is a normal stop.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Info("simulating device %s on %s", s.opts.Addresses.Device, s.ep.Name())
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-s.ep.Frames():
			if !ok {
				if err := radio.Cause(s.ep); err != nil {
					return fmt.Errorf("device endpoint %s: %w", s.ep.Name(), err)
				}
				return nil
			}
			if err := s.handle(ctx, raw); err != nil {
				return err
			}
		}
	}
}

func (s *Simulator) handle(ctx context.Context, raw []byte) error {
	f, err := dot11.Parse(raw)
	if err != nil || !s.opts.Addresses.IsRequest(f) {
		return nil
	}
	s.requests.Add(1)

	req, err := diag.ParseRequest(f.Payload)
	if err != nil {
		s.malformed.Add(1)
		s.log.Verbose("malformed request: %v", err)
		return nil
	}
	s.log.LogFrame("request", f)

	payload := s.respond(req)
	if payload == nil {
		return nil
	}

	action := s.faults.next(req.Opcode)
	if action.drop {
		s.dropped.Add(1)
		s.log.Debug("dropping %s response", req.Opcode)
		return nil
	}
	if action.corrupt {
		corrupt(payload)
	}
	if action.delay > 0 {
		if !sleep(ctx, action.delay) {
			return nil
		}
	}

	frame, err := dot11.BuildAction(dot11.Header{
		Dst:   s.opts.Addresses.Harness,
		Src:   s.opts.Addresses.Device,
		BSSID: s.opts.Addresses.Device,
	}, payload)
	if err != nil {
		return fmt.Errorf("build %s response: %w", req.Opcode, err)
	}
	if err := s.ep.Transmit(frame); err != nil {
		s.log.Error("transmit %s response on %s: %v", req.Opcode, s.ep.Name(), err)
		return nil
	}
	s.replies.Add(1)
	return nil
}

// respond returns the response payload for req, or nil when the opcode has none.
func (s *Simulator) respond(req diag.Request) []byte {
	id := s.opts.Identity
	switch req.Opcode {
	case diag.OpPosition:
		return reply(req, diag.StatusOffset, []byte(id.Position))
	case diag.OpUptime:
		return reply(req, diag.StatusOffset, []byte(id.Uptime))
	case diag.OpModelInfo:
		return reply(req, diag.InfoOffset, []byte(id.Model))
	case diag.OpMemRead:
		return reply(req, diag.InfoOffset, req.Probe)
	case diag.OpMemWrite:
		if req.Slot >= diag.MemWriteSlots {
			s.malformed.Add(1)
			s.log.Verbose("MEM_WRITE slot %d out of range", req.Slot)
			return nil
		}
		s.mu.Lock()
		s.memory[req.Slot] = req.Value
		s.mu.Unlock()
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], req.Value)
		return reply(req, diag.MemValueOffset, value[:])
	case diag.OpCredentialReset:
		if req.Selector == diag.SelCredentialResetFinal {
			s.resets.Add(1)
			s.log.Info("credentials reset")
		}
		return nil
	default:
		return nil
	}
}

// reply echoes the request header and places data at offset.
func reply(req diag.Request, offset int, data []byte) []byte {
	out := make([]byte, offset+len(data))
	binary.LittleEndian.PutUint16(out[0:2], diag.ActionCode)
	binary.LittleEndian.PutUint16(out[2:4], req.Selector)
	copy(out[offset:], data)
	return out
}

// Memory returns the value last written to slot.
func (s *Simulator) Memory(slot int) (uint64, bool) {
	if slot < 0 || slot >= diag.MemWriteSlots {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory[slot], true
}

// Stats returns a snapshot of the counters.
func (s *Simulator) Stats() Stats {
	return Stats{
		Requests:  s.requests.Load(),
		Replies:   s.replies.Load(),
		Dropped:   s.dropped.Load(),
		Malformed: s.malformed.Load(),
		Resets:    s.resets.Load(),
	}
}
