// Package tunnel carries link-layer frames over a byte stream.
//
// Wire format: a 4-byte little-endian length L followed by exactly L bytes,
// repeated. There is no padding, checksum or magic number.
package tunnel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of the length prefix.
const PrefixLen = 4

var (
	ErrFrameTooLarge = errors.New("tunnel: frame exceeds size limit")
	ErrClosed        = errors.New("tunnel: stream closed")
)

// Limits bounds frame sizes in both directions.
type Limits struct {
	MaxFrameBytes uint32
}

// DefaultLimits matches the capture snap length.
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 65535}
}

func (l Limits) max() uint32 {
	if l.MaxFrameBytes == 0 {
		return DefaultLimits().MaxFrameBytes
	}
	return l.MaxFrameBytes
}

// Encode returns the prefixed wire form of frame.
func Encode(frame []byte, limits Limits) ([]byte, error) {
	if uint64(len(frame)) > uint64(limits.max()) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), limits.max())
	}
	out := make([]byte, PrefixLen+len(frame))
	binary.LittleEndian.PutUint32(out[:PrefixLen], uint32(len(frame)))
	copy(out[PrefixLen:], frame)
	return out, nil
}

// WriteFrame writes one prefixed frame with a single Write call.
func WriteFrame(w io.Writer, frame []byte, limits Limits) error {
	wire, err := Encode(frame, limits)
	if err != nil {
		return err
	}
	if _, err := w.Write(wire); err != nil {
		return err
	}
	return nil
}

// Buffer accumulates stream bytes and yields complete frames. It is not safe
// for concurrent use.
type Buffer struct {
	data   []byte
	limits Limits
}

// NewBuffer creates an empty buffer.
func NewBuffer(limits Limits) *Buffer {
	return &Buffer{limits: limits}
}

// Write appends stream bytes. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Next extracts one complete frame. It returns ok=false without consuming
// anything when the prefix or the declared payload is not fully buffered. A
// declared length above the limit is a malformed stream.
func (b *Buffer) Next() (frame []byte, ok bool, err error) {
	if len(b.data) < PrefixLen {
		return nil, false, nil
	}
	wanted := binary.LittleEndian.Uint32(b.data[:PrefixLen])
	if wanted > b.limits.max() {
		return nil, false, fmt.Errorf("%w: declared %d > %d", ErrFrameTooLarge, wanted, b.limits.max())
	}
	end := PrefixLen + int(wanted)
	if len(b.data) < end {
		return nil, false, nil
	}

	frame = make([]byte, wanted)
	copy(frame, b.data[PrefixLen:end])

	rest := len(b.data) - end
	copy(b.data, b.data[end:])
	b.data = b.data[:rest]
	return frame, true, nil
}
