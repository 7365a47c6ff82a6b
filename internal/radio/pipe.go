package radio

import (
	"sync"
	"sync/atomic"
)

// PipeOptions configures an in-memory medium.
type PipeOptions struct {
	QueueDepth int
	// Echo delivers a transmitted frame to the transmitter's own Frames as
	// well, the way a monitor interface sees its own injections.
	Echo bool
}

// PipeEnd is one station on an in-memory medium created by Pipe.
type PipeEnd struct {
	name   string
	echo   bool
	peer   *PipeEnd
	frames chan []byte

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Pipe returns two connected endpoints. A frame transmitted on one is observed
// by the other. Delivery never blocks; a full queue drops the frame and
// counts it, like a lossy radio.
func Pipe(nameA, nameB string, opts PipeOptions) (*PipeEnd, *PipeEnd) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	a := &PipeEnd{name: nameA, echo: opts.Echo, frames: make(chan []byte, opts.QueueDepth)}
	b := &PipeEnd{name: nameB, echo: opts.Echo, frames: make(chan []byte, opts.QueueDepth)}
	a.peer, b.peer = b, a
	return a, b
}

// Name returns the station name.
func (p *PipeEnd) Name() string { return p.name }

// Frames returns frames observed by this station.
func (p *PipeEnd) Frames() <-chan []byte { return p.frames }

// Transmit puts frame on the medium.
func (p *PipeEnd) Transmit(frame []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}

	p.peer.receive(copyFrame(frame))
	if p.echo {
		p.receive(copyFrame(frame))
	}
	return nil
}

func (p *PipeEnd) receive(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.frames <- frame:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns frames lost to a full queue.
func (p *PipeEnd) Dropped() uint64 { return p.dropped.Load() }

// Counters reports queue overflow.
func (p *PipeEnd) Counters() Counters { return Counters{Overflow: p.Dropped()} }

// Close stops delivery to this station and closes its Frames channel.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
	return nil
}
