// Package sequencer runs diagnostic steps one at a time over an endpoint,
// correlating each response with the single outstanding request.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonylturner/linkshim/internal/diag"
	"github.com/tonylturner/linkshim/internal/dot11"
	"github.com/tonylturner/linkshim/internal/logging"
	"github.com/tonylturner/linkshim/internal/radio"
)

// DefaultWatchdog bounds a whole run.
const DefaultWatchdog = 10 * time.Second

// ErrWatchdog is returned when the run deadline expires.
var ErrWatchdog = errors.New("sequencer: watchdog expired")

// Options configures a run.
type Options struct {
	Addresses  diag.Addresses
	Watchdog   time.Duration // 0 uses DefaultWatchdog, negative disables it
	StartDelay time.Duration
	Logger     *logging.Logger
	// OnStep is called from the run goroutine after each step leaves IN_FLIGHT.
	OnStep func(StepResult)
}

// StepResult describes one step of a run.
type StepResult struct {
	Index     int
	Name      string
	Opcode    diag.Opcode
	State     State
	Requests  int
	Responses int
	Started   time.Time
	Elapsed   time.Duration
	Err       error
}

// Result is the outcome of a run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
	Err      error
}

// Passed reports whether every step advanced.
func (r *Result) Passed() bool {
	if r.Err != nil {
		return false
	}
	for _, s := range r.Steps {
		if s.State != StateAdvanced {
			return false
		}
	}
	return true
}

// Sequencer executes a queue of steps against one endpoint.
type Sequencer struct {
	ep    radio.Endpoint
	steps []Step
	opts  Options
	log   *logging.Logger
	runID string

	mu      sync.Mutex
	results []StepResult
}

// New prepares a run. Steps are copied; the queue is consumed by Run.
func New(ep radio.Endpoint, steps []Step, opts Options) *Sequencer {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Addresses.Device == nil || opts.Addresses.Harness == nil {
		opts.Addresses = diag.DefaultAddresses()
	}
	if opts.Watchdog == 0 {
		opts.Watchdog = DefaultWatchdog
	}
	s := &Sequencer{
		ep:      ep,
		steps:   append([]Step(nil), steps...),
		opts:    opts,
		log:     opts.Logger.Named("sequencer"),
		runID:   uuid.New().String(),
		results: make([]StepResult, len(steps)),
	}
	for i, st := range steps {
		s.results[i] = StepResult{Index: i, Name: st.Name, Opcode: st.Opcode, State: StateQueued}
	}
	return s
}

// RunID identifies this run in logs and reports.
func (s *Sequencer) RunID() string { return s.runID }

// Snapshot returns the current per-step results. It is safe to call while
// Run is active.
func (s *Sequencer) Snapshot() []StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepResult(nil), s.results...)
}

func (s *Sequencer) update(i int, fn func(*StepResult)) StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.results[i])
	return s.results[i]
}

// Run executes every step in order. It returns nil once the queue drains, a
// *diag.ValidationError on the first failed check, ErrWatchdog when the
// deadline passes, and a transport error if the endpoint fails.
func (s *Sequencer) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: s.runID, Started: time.Now()}
	err := s.run(ctx)
	res.Finished = time.Now()
	res.Steps = s.Snapshot()
	res.Err = err
	return res, err
}

func (s *Sequencer) run(parent context.Context) error {
	ctx := parent
	if s.opts.Watchdog > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.opts.Watchdog)
		defer cancel()
	}
	s.log.Info("run %s: %d steps, watchdog %s", s.runID, len(s.steps), s.opts.Watchdog)

	if err := s.delay(ctx); err != nil {
		return err
	}

	var slot pending
	for i := range s.steps {
		if err := s.execute(ctx, i, &slot); err != nil {
			return err
		}
	}
	s.log.Info("run %s: all %d steps passed", s.runID, len(s.steps))
	return nil
}

// delay waits out the start delay, discarding anything received meanwhile.
func (s *Sequencer) delay(ctx context.Context) error {
	if s.opts.StartDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.opts.StartDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return s.aborted(ctx, "start delay")
		case _, ok := <-s.ep.Frames():
			if !ok {
				return s.endpointStopped()
			}
		}
	}
}

func (s *Sequencer) execute(ctx context.Context, i int, slot *pending) error {
	step := &s.steps[i]
	if !slot.idle() {
		return ErrRequestPending
	}
	started := time.Now()
	s.update(i, func(r *StepResult) {
		r.State = StateInFlight
		r.Started = started
	})

	if step.Expect > 0 {
		if err := slot.arm(step); err != nil {
			return err
		}
	}
	for _, payload := range step.Requests {
		frame, err := s.opts.Addresses.RequestFrame(payload)
		if err != nil {
			return fmt.Errorf("build %s request: %w", step.Opcode, err)
		}
		if err := s.ep.Transmit(frame); err != nil {
			slot.reset()
			return s.fail(i, started, fmt.Errorf("send %s request on %s: %w", step.Opcode, s.ep.Name(), err))
		}
		s.update(i, func(r *StepResult) { r.Requests++ })
		s.log.LogHex("request "+step.Name, payload)
	}

	var checkErr error
	for !slot.idle() {
		select {
		case <-ctx.Done():
			slot.reset()
			return s.fail(i, started, s.aborted(ctx, step.Name))
		case raw, ok := <-s.ep.Frames():
			if !ok {
				slot.reset()
				return s.fail(i, started, s.endpointStopped())
			}
			payload, match := s.match(raw)
			if !match {
				continue
			}
			s.update(i, func(r *StepResult) { r.Responses++ })
			done, err := slot.offer(payload)
			if done {
				checkErr = err
			}
		}
	}

	elapsed := time.Since(started)
	state := StateAdvanced
	if checkErr != nil {
		state = StateFailed
	}
	result := s.update(i, func(r *StepResult) {
		r.State = state
		r.Elapsed = elapsed
		r.Err = checkErr
	})
	s.log.LogStep(step.Name, step.Opcode.String(), checkErr == nil, elapsed, checkErr)
	if s.opts.OnStep != nil {
		s.opts.OnStep(result)
	}
	return checkErr
}

// fail marks step i FAILED because the run is being aborted.
func (s *Sequencer) fail(i int, started time.Time, err error) error {
	result := s.update(i, func(r *StepResult) {
		r.State = StateFailed
		r.Elapsed = time.Since(started)
		r.Err = err
	})
	s.log.LogStep(result.Name, result.Opcode.String(), false, result.Elapsed, err)
	if s.opts.OnStep != nil {
		s.opts.OnStep(result)
	}
	return err
}

// match returns the diagnostic payload of raw if it is a response for us.
func (s *Sequencer) match(raw []byte) ([]byte, bool) {
	f, err := dot11.Parse(raw)
	if err != nil {
		s.log.Debug("ignoring undecodable frame: %v", err)
		return nil, false
	}
	if !s.opts.Addresses.IsResponse(f) {
		return nil, false
	}
	s.log.LogFrame("response", f)
	return f.Payload, true
}

func (s *Sequencer) aborted(ctx context.Context, where string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s during %s", ErrWatchdog, s.opts.Watchdog, where)
	}
	return ctx.Err()
}

func (s *Sequencer) endpointStopped() error {
	cause := radio.Cause(s.ep)
	if cause == nil {
		cause = radio.ErrEndpointClosed
	}
	return fmt.Errorf("%s stopped: %w", s.ep.Name(), cause)
}
