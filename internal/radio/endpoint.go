// Package radio provides capture/injection endpoints: monitor-mode interfaces,
// length-prefixed streams and in-memory pipes, all behind one interface.
package radio

import (
	"errors"
)

var (
	// ErrEndpointClosed is returned by Transmit after Close.
	ErrEndpointClosed = errors.New("radio: endpoint closed")
	// ErrRateLimited is returned when an injection exceeds the configured rate.
	ErrRateLimited = errors.New("radio: injection rate exceeded")
)

// Endpoint is one side of a bridge or the harness's view of the medium.
//
// Frames delivers every observed frame in capture order and is closed when
// the endpoint stops. Transmit is fire-and-forget: a nil error means the frame
// was handed to the medium, not that anyone received it.
type Endpoint interface {
	Name() string
	Frames() <-chan []byte
	Transmit(frame []byte) error
	Close() error
}

// Failer is implemented by endpoints whose Frames channel can close because
// of an error rather than a Close call.
type Failer interface {
	Err() error
}

// Observer receives radio counters. *metrics.LinkMetrics satisfies it.
type Observer interface {
	Overflow(iface string)
	Rejected(iface string)
}

// Counters are frames an endpoint lost on its own, before any bridge policy
// saw them.
type Counters struct {
	Overflow     uint64 // captured frames dropped on a full queue
	RateLimited  int64  // injections refused by the rate limiter
	RecordErrors uint64 // frames the recorder failed to write
}

// Counted is implemented by endpoints that keep Counters.
type Counted interface {
	Counters() Counters
}

// CountersOf returns ep's counters, if it keeps any.
func CountersOf(ep Endpoint) (Counters, bool) {
	if c, ok := ep.(Counted); ok {
		return c.Counters(), true
	}
	return Counters{}, false
}

// Cause returns the error that stopped ep, or nil.
func Cause(ep Endpoint) error {
	if f, ok := ep.(Failer); ok {
		return f.Err()
	}
	return nil
}

func copyFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
