package radio

import (
	"sync"
	"time"

	"github.com/tonylturner/linkshim/internal/tunnel"
)

// DefaultPollInterval is how often a stream endpoint drains its channel.
const DefaultPollInterval = 10 * time.Millisecond

// StreamEndpoint exposes a tunnel.Channel as an Endpoint. A polling loop
// drains complete frames from the channel at a fixed interval.
type StreamEndpoint struct {
	name   string
	ch     *tunnel.Channel
	poll   time.Duration
	frames chan []byte

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewStreamEndpoint starts the channel's read pump and the polling loop.
func NewStreamEndpoint(name string, ch *tunnel.Channel, poll time.Duration) *StreamEndpoint {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	s := &StreamEndpoint{
		name:   name,
		ch:     ch,
		poll:   poll,
		frames: make(chan []byte),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	ch.Start()
	go s.pollLoop()
	return s
}

// Name returns the endpoint name.
func (s *StreamEndpoint) Name() string { return s.name }

// Frames returns decoded frames. The channel closes on Close or on a stream
// error reported by Err.
func (s *StreamEndpoint) Frames() <-chan []byte { return s.frames }

func (s *StreamEndpoint) pollLoop() {
	defer close(s.done)
	defer close(s.frames)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		for {
			frame, err := s.ch.ReadFrame()
			if err != nil {
				s.setErr(err)
				return
			}
			if frame == nil {
				break
			}
			select {
			case s.frames <- frame:
			case <-s.stop:
				return
			}
		}
	}
}

// Transmit writes one length-prefixed frame.
func (s *StreamEndpoint) Transmit(frame []byte) error {
	if err := s.ch.WriteFrame(frame); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

// Err returns the stream error that stopped the endpoint, if any.
func (s *StreamEndpoint) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamEndpoint) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops polling and closes the channel.
func (s *StreamEndpoint) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.ch.Close()
	})
	return err
}
