package radio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/tonylturner/linkshim/internal/logging"
)

// MonitorOptions configures a monitor-mode endpoint.
type MonitorOptions struct {
	SnapLen     int
	ReadTimeout time.Duration
	QueueDepth  int
	Filter      string // optional BPF filter
	InjectRate  int    // frames per second, 0 = unlimited
	InjectBurst int
	Observer    Observer
	Logger      *logging.Logger
}

func (o *MonitorOptions) defaults() {
	if o.SnapLen <= 0 {
		o.SnapLen = 65535
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 100 * time.Millisecond
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 1024
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// Monitor captures and injects radiotap frames on one interface.
type Monitor struct {
	iface    string
	handle   *pcap.Handle
	frames   chan []byte
	limiter  *injectLimiter
	observer Observer
	log      *logging.Logger

	overflow atomic.Uint64
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool

	errMu sync.Mutex
	err   error
}

// OpenMonitor opens iface for live capture. The interface must deliver
// 802.11 frames with radiotap headers.
func OpenMonitor(iface string, opts MonitorOptions) (*Monitor, error) {
	opts.defaults()

	handle, err := pcap.OpenLive(iface, int32(opts.SnapLen), true, opts.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture: %w", err)
	}
	if lt := handle.LinkType(); lt != layers.LinkTypeIEEE80211Radio {
		handle.Close()
		return nil, fmt.Errorf("%s: unexpected link type %s", iface, lt)
	}
	if opts.Filter != "" {
		if err := handle.SetBPFFilter(opts.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set BPF filter: %w", err)
		}
	}

	m := &Monitor{
		iface:    iface,
		handle:   handle,
		frames:   make(chan []byte, opts.QueueDepth),
		limiter:  newInjectLimiter(opts.InjectRate, opts.InjectBurst),
		observer: opts.Observer,
		log:      opts.Logger.Named("radio." + iface),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.captureLoop()
	return m, nil
}

// Name returns the interface name.
func (m *Monitor) Name() string { return m.iface }

// Frames returns captured frames.
func (m *Monitor) Frames() <-chan []byte { return m.frames }

// captureLoop reads until Close. The read timeout bounds how long a stop
// request can wait.
func (m *Monitor) captureLoop() {
	defer close(m.done)
	defer close(m.frames)

	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		data, _, err := m.handle.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return
		default:
			if m.closed.Load() {
				return
			}
			m.fail(fmt.Errorf("capture on %s: %w", m.iface, err))
			return
		}

		m.deliver(data)
	}
}

// deliver never blocks the capture loop; a full queue drops the frame.
func (m *Monitor) deliver(data []byte) {
	select {
	case m.frames <- data:
	default:
		m.overflow.Add(1)
		if m.observer != nil {
			m.observer.Overflow(m.iface)
		}
		m.log.Debug("capture queue full, dropped %d-byte frame", len(data))
	}
}

// Transmit injects one frame.
func (m *Monitor) Transmit(frame []byte) error {
	if m.closed.Load() {
		return ErrEndpointClosed
	}
	if !m.limiter.Allow() {
		if m.observer != nil {
			m.observer.Rejected(m.iface)
		}
		return ErrRateLimited
	}
	if err := m.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("inject on %s: %w", m.iface, err)
	}
	return nil
}

// Overflow returns the number of frames dropped on a full queue.
func (m *Monitor) Overflow() uint64 { return m.overflow.Load() }

// InjectStats returns rate limiter counters.
func (m *Monitor) InjectStats() InjectStats { return m.limiter.Stats() }

// Counters reports queue overflow and rate-limited injections.
func (m *Monitor) Counters() Counters {
	return Counters{Overflow: m.Overflow(), RateLimited: m.InjectStats().Rejected}
}

// Err returns the capture error that stopped the endpoint, if any.
func (m *Monitor) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

func (m *Monitor) fail(err error) {
	m.errMu.Lock()
	m.err = err
	m.errMu.Unlock()
	m.log.Error("%v", err)
}

// Close stops capture and releases the handle (idempotent).
func (m *Monitor) Close() error {
	m.stopOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopChan)
		<-m.done
		m.handle.Close()
	})
	return nil
}
