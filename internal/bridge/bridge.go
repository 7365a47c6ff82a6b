// Package bridge forwards frames between endpoints, filtering each receiving
// side with its own policy.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonylturner/linkshim/internal/dot11"
	"github.com/tonylturner/linkshim/internal/logging"
	"github.com/tonylturner/linkshim/internal/metrics"
	"github.com/tonylturner/linkshim/internal/radio"
)

// ErrSideClosed reports that an endpoint stopped without a specific cause.
var ErrSideClosed = errors.New("bridge: endpoint closed")

// Side is one endpoint and the policy applied to frames received on it.
type Side struct {
	Name     string
	Endpoint radio.Endpoint
	Policy   Policy
	// Stream marks a tunnel endpoint: transmit errors on it end the bridge.
	Stream bool
}

// Options configures a Bridge.
type Options struct {
	Identity net.HardwareAddr
	Logger   *logging.Logger
	Metrics  *metrics.LinkMetrics

	// EchoWindow bounds how long transmitted frames are remembered for echo
	// suppression. Zero uses DefaultEchoWindow.
	EchoWindow time.Duration
}

// SideStats is a snapshot of one side's counters. Received counts frames
// arriving on the side; the rest count what happened to them.
type SideStats struct {
	Name      string
	Policy    string
	Received  uint64
	Forwarded uint64
	Echo      uint64
	Self      uint64
	Spoofed   uint64
	Filtered  uint64
	Decode    uint64
	TxError   uint64
}

// Dropped sums every drop reason.
func (s SideStats) Dropped() uint64 {
	return s.Echo + s.Self + s.Spoofed + s.Filtered + s.Decode + s.TxError
}

type sideCounters struct {
	received  atomic.Uint64
	forwarded atomic.Uint64
	echo      atomic.Uint64
	self      atomic.Uint64
	spoofed   atomic.Uint64
	filtered  atomic.Uint64
	decode    atomic.Uint64
	txError   atomic.Uint64
}

func (c *sideCounters) add(v Verdict) {
	switch v {
	case VerdictForward:
		c.forwarded.Add(1)
	case VerdictEcho:
		c.echo.Add(1)
	case VerdictSelf:
		c.self.Add(1)
	case VerdictSpoofed:
		c.spoofed.Add(1)
	case VerdictFiltered:
		c.filtered.Add(1)
	case VerdictDecode:
		c.decode.Add(1)
	case VerdictTxError:
		c.txError.Add(1)
	}
}

// Bridge moves frames between sides. Each side forwards the frames its policy
// accepts to one route side.
type Bridge struct {
	sides    []Side
	routes   []int
	counters []sideCounters
	echoes   *echoFilter
	identity net.HardwareAddr
	log      *logging.Logger
	metrics  *metrics.LinkMetrics
}

// New builds a bridge where each side forwards to the other.
func New(a, b Side, opts Options) (*Bridge, error) {
	return NewRouted([]Side{a, b}, []int{1, 0}, opts)
}

// NewRouted builds a bridge over any number of sides. Frames accepted on
// sides[i] are transmitted on sides[routes[i]]; several sides may share a
// route.
func NewRouted(sides []Side, routes []int, opts Options) (*Bridge, error) {
	if len(opts.Identity) != 6 {
		return nil, fmt.Errorf("bridge identity must be a 6-byte address, got %d bytes", len(opts.Identity))
	}
	if len(sides) < 2 {
		return nil, fmt.Errorf("bridge needs at least two sides, got %d", len(sides))
	}
	if len(routes) != len(sides) {
		return nil, fmt.Errorf("bridge has %d sides but %d routes", len(sides), len(routes))
	}
	sides = append([]Side(nil), sides...)
	for i := range sides {
		if sides[i].Endpoint == nil {
			return nil, fmt.Errorf("bridge side %d has no endpoint", i)
		}
		if routes[i] < 0 || routes[i] >= len(sides) || routes[i] == i {
			return nil, fmt.Errorf("bridge side %d has invalid route %d", i, routes[i])
		}
		if sides[i].Name == "" {
			sides[i].Name = sides[i].Endpoint.Name()
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Bridge{
		sides:    sides,
		routes:   append([]int(nil), routes...),
		counters: make([]sideCounters, len(sides)),
		echoes:   newEchoFilter(opts.EchoWindow),
		identity: opts.Identity,
		log:      opts.Logger.Named("bridge"),
		metrics:  opts.Metrics,
	}, nil
}

type arrival struct {
	side int
	raw  []byte
	ok   bool
}

// Run forwards until ctx is done, an endpoint stops, or a stream side fails
// to transmit. A cancelled context returns ctx.Err().
func (br *Bridge) Run(ctx context.Context) error {
	for i, s := range br.sides {
		to := br.sides[br.routes[i]]
		br.log.Info("bridging %s (%s) -> %s as %s", s.Name, s.Policy, to.Name, br.identity)
	}

	ctx, cancel := context.WithCancel(ctx)
	in := make(chan arrival)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for i := range br.sides {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			br.pump(ctx, i, in)
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-in:
			if !a.ok {
				return br.sideStopped(a.side)
			}
			if err := br.handle(a.side, a.raw); err != nil {
				return err
			}
		}
	}
}

// pump feeds side i's frames to the bridge loop in capture order.
func (br *Bridge) pump(ctx context.Context, i int, in chan<- arrival) {
	frames := br.sides[i].Endpoint.Frames()
	for {
		var a arrival
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			a = arrival{side: i, raw: raw, ok: ok}
		}
		select {
		case in <- a:
		case <-ctx.Done():
			return
		}
		if !a.ok {
			return
		}
	}
}

func (br *Bridge) sideStopped(i int) error {
	cause := radio.Cause(br.sides[i].Endpoint)
	if cause == nil {
		cause = ErrSideClosed
	}
	return fmt.Errorf("%s side stopped: %w", br.sides[i].Name, cause)
}

// handle drops echoes of the bridge's own transmissions, applies side i's
// policy to raw and forwards it along the side's route.
func (br *Bridge) handle(i int, raw []byte) error {
	from, to := &br.sides[i], &br.sides[br.routes[i]]
	counters := &br.counters[i]
	counters.received.Add(1)

	frame, err := dot11.Parse(raw)
	if err != nil {
		br.record(i, VerdictDecode)
		br.log.Debug("%s: dropped undecodable frame: %v", from.Name, err)
		return nil
	}

	key := echoKey(frame)
	if !from.Stream && br.echoes.match(key, i) {
		br.record(i, VerdictEcho)
		br.log.LogFrame(from.Name+": dropped echo", frame)
		return nil
	}

	verdict := from.Policy.Decide(frame, br.identity)
	if verdict != VerdictForward {
		br.record(i, verdict)
		br.log.LogFrame(from.Name+": dropped "+string(verdict), frame)
		return nil
	}

	if err := to.Endpoint.Transmit(raw); err != nil {
		br.record(i, VerdictTxError)
		if to.Stream {
			return fmt.Errorf("transmit to %s: %w", to.Name, err)
		}
		br.log.Verbose("transmit to %s failed: %v", to.Name, err)
		return nil
	}
	if !to.Stream {
		br.echoes.sent(key, i)
	}
	br.record(i, VerdictForward)
	br.log.LogFrame(from.Name+" -> "+to.Name, frame)
	return nil
}

func (br *Bridge) record(i int, v Verdict) {
	br.counters[i].add(v)
	br.metrics.Frame(br.sides[i].Name, string(v))
}

// Stats returns a snapshot of every side's counters in side order. It is
// safe to call while Run is active.
func (br *Bridge) Stats() []SideStats {
	out := make([]SideStats, len(br.sides))
	for i := range br.sides {
		c := &br.counters[i]
		out[i] = SideStats{
			Name:      br.sides[i].Name,
			Policy:    br.sides[i].Policy.String(),
			Received:  c.received.Load(),
			Forwarded: c.forwarded.Load(),
			Echo:      c.echo.Load(),
			Self:      c.self.Load(),
			Spoofed:   c.spoofed.Load(),
			Filtered:  c.filtered.Load(),
			Decode:    c.decode.Load(),
			TxError:   c.txError.Load(),
		}
	}
	return out
}
