package tunnel

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferHelloScenario(t *testing.T) {
	b := NewBuffer(DefaultLimits())
	b.Write([]byte("\x05\x00\x00\x00HELLO"))

	frame, ok, err := b.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("HELLO"), frame)

	frame, ok, err = b.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, frame)
	assert.Zero(t, b.Len())
}

func TestBufferPartialData(t *testing.T) {
	b := NewBuffer(DefaultLimits())

	b.Write([]byte{0x03, 0x00})
	_, ok, err := b.Next()
	require.NoError(t, err)
	assert.False(t, ok, "short prefix must not yield a frame")

	b.Write([]byte{0x00, 0x00, 'a', 'b'})
	_, ok, err = b.Next()
	require.NoError(t, err)
	assert.False(t, ok, "short payload must not yield a frame")
	assert.Equal(t, 6, b.Len(), "nothing may be consumed before a frame is complete")

	b.Write([]byte{'c', 0x01})
	frame, ok, err := b.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), frame)
	assert.Equal(t, 1, b.Len())
}

func TestRoundTrip(t *testing.T) {
	limits := Limits{MaxFrameBytes: 2048}
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "zero length", frame: []byte{}},
		{name: "small", frame: []byte{0xd0, 0x00, 0x01}},
		{name: "maximum size", frame: bytes.Repeat([]byte{0x5a}, int(limits.MaxFrameBytes))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Encode(tt.frame, limits)
			require.NoError(t, err)
			assert.Len(t, wire, PrefixLen+len(tt.frame))

			b := NewBuffer(limits)
			b.Write(wire)
			got, ok, err := b.Next()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.frame, got)
		})
	}
}

func TestBackToBackFrames(t *testing.T) {
	var stream bytes.Buffer
	for _, f := range []string{"one", "", "three"} {
		require.NoError(t, WriteFrame(&stream, []byte(f), DefaultLimits()))
	}

	b := NewBuffer(DefaultLimits())
	b.Write(stream.Bytes())
	var got []string
	for {
		frame, ok, err := b.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(frame))
	}
	assert.Equal(t, []string{"one", "", "three"}, got)
}

func TestOversizeFrames(t *testing.T) {
	limits := Limits{MaxFrameBytes: 16}

	_, err := Encode(make([]byte, 17), limits)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	b := NewBuffer(limits)
	b.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, ok, err := b.Next()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrFrameTooLarge), "oversize prefix must fail instead of waiting")
}

func TestChannelOverPipe(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	ch := NewChannel(pr, &out, DefaultLimits())
	ch.Start()

	frame, err := ch.ReadFrame()
	require.NoError(t, err)
	assert.Nil(t, frame, "empty stream reads nothing")

	go func() {
		_ = WriteFrame(pw, []byte("HELLO"), DefaultLimits())
		pw.Close()
	}()

	var got []byte
	require.Eventually(t, func() bool {
		f, err := ch.ReadFrame()
		if err != nil || f == nil {
			return false
		}
		got = f
		return true
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("HELLO"), got)

	require.Eventually(t, func() bool {
		_, err := ch.ReadFrame()
		return errors.Is(err, ErrClosed)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ch.WriteFrame([]byte("BYE")))
	assert.Equal(t, []byte("\x03\x00\x00\x00BYE"), out.Bytes())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestChannelWriteAfterStreamClosed(t *testing.T) {
	ch := NewChannel(bytes.NewReader(nil), failingWriter{}, DefaultLimits())

	err := ch.WriteFrame([]byte("x"))
	assert.True(t, errors.Is(err, ErrClosed))
	err = ch.WriteFrame([]byte("y"))
	assert.True(t, errors.Is(err, ErrClosed))
}

type countingSink struct{ in, out int }

func (c *countingSink) AddBytes(direction string, n int) {
	if direction == "in" {
		c.in += n
	} else {
		c.out += n
	}
}

func TestChannelCounters(t *testing.T) {
	var out bytes.Buffer
	sink := &countingSink{}
	ch := NewChannel(bytes.NewReader(nil), &out, DefaultLimits()).WithCounters(sink)

	require.NoError(t, ch.WriteFrame([]byte("abcd")))
	assert.Equal(t, 8, sink.out)
}
