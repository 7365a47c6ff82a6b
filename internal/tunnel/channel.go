package tunnel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// readChunk is the size of a single read from the underlying stream.
const readChunk = 65536

// Counters observes bytes crossing a channel. A nil Counters is ignored.
type Counters interface {
	AddBytes(direction string, n int)
}

// Channel frames a bidirectional byte stream. Reads are non-blocking: a pump
// goroutine appends everything read from r into a Buffer and ReadFrame only
// inspects that buffer. Writes are serialized so every Write on w is exactly
// one prefixed frame.
type Channel struct {
	r        io.Reader
	w        io.Writer
	limits   Limits
	counters Counters

	mu      sync.Mutex
	buf     *Buffer
	readErr error

	wmu     sync.Mutex
	closed  atomic.Bool
	started sync.Once
}

// NewChannel wraps a read side and a write side.
func NewChannel(r io.Reader, w io.Writer, limits Limits) *Channel {
	return &Channel{
		r:      r,
		w:      w,
		limits: limits,
		buf:    NewBuffer(limits),
	}
}

// WithCounters attaches byte counters. Call before Start.
func (c *Channel) WithCounters(counters Counters) *Channel {
	c.counters = counters
	return c
}

// Start launches the read pump. It is safe to call more than once.
func (c *Channel) Start() {
	c.started.Do(func() {
		go c.pump()
	})
}

func (c *Channel) pump() {
	chunk := make([]byte, readChunk)
	for {
		n, err := c.r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf.Write(chunk[:n])
			c.mu.Unlock()
			if c.counters != nil {
				c.counters.AddBytes("in", n)
			}
		}
		if err != nil {
			c.mu.Lock()
			if errors.Is(err, io.EOF) {
				c.readErr = ErrClosed
			} else {
				c.readErr = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			c.mu.Unlock()
			return
		}
	}
}

// ReadFrame returns the next complete frame, or nil when none is buffered yet.
// Once the stream has ended and no complete frame remains, it returns ErrClosed.
// A malformed length prefix returns ErrFrameTooLarge.
func (c *Channel) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, ok, err := c.buf.Next()
	if err != nil {
		return nil, err
	}
	if ok {
		return frame, nil
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	return nil, nil
}

// WriteFrame writes one prefixed frame.
func (c *Channel) WriteFrame(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := WriteFrame(c.w, frame, c.limits); err != nil {
		if errors.Is(err, ErrFrameTooLarge) {
			return err
		}
		c.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if f, ok := c.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			c.closed.Store(true)
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
	}
	if c.counters != nil {
		c.counters.AddBytes("out", PrefixLen+len(frame))
	}
	return nil
}

// Close marks the channel closed for writing and closes any closable side.
func (c *Channel) Close() error {
	c.closed.Store(true)
	var errs []error
	if wc, ok := c.w.(io.Closer); ok {
		errs = append(errs, wc.Close())
	}
	if rc, ok := c.r.(io.Closer); ok && any(c.r) != any(c.w) {
		errs = append(errs, rc.Close())
	}
	return errors.Join(errs...)
}
