package radio

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonylturner/linkshim/internal/capture"
	"github.com/tonylturner/linkshim/internal/tunnel"
)

func recvFrame(t *testing.T, ep Endpoint) []byte {
	t.Helper()
	select {
	case f, ok := <-ep.Frames():
		require.True(t, ok, "frames channel closed")
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame on %s", ep.Name())
		return nil
	}
}

func assertNoFrame(t *testing.T, ep Endpoint) {
	t.Helper()
	select {
	case f := <-ep.Frames():
		t.Fatalf("unexpected frame on %s: %x", ep.Name(), f)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPipeDelivery(t *testing.T) {
	a, b := Pipe("a", "b", PipeOptions{})
	defer a.Close()
	defer b.Close()

	frame := []byte{1, 2, 3}
	require.NoError(t, a.Transmit(frame))
	frame[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, recvFrame(t, b), "transmitted frame must be copied")
	assertNoFrame(t, a)
}

func TestPipeEcho(t *testing.T) {
	a, b := Pipe("a", "b", PipeOptions{Echo: true})
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.Transmit([]byte("x")))
	assert.Equal(t, []byte("x"), recvFrame(t, a))
	assert.Equal(t, []byte("x"), recvFrame(t, b))
}

func TestPipeOrderAndOverflow(t *testing.T) {
	a, b := Pipe("a", "b", PipeOptions{QueueDepth: 2})
	defer a.Close()
	defer b.Close()

	for i := byte(0); i < 4; i++ {
		require.NoError(t, a.Transmit([]byte{i}))
	}
	assert.Equal(t, []byte{0}, recvFrame(t, b))
	assert.Equal(t, []byte{1}, recvFrame(t, b))
	assert.Equal(t, uint64(2), b.Dropped())

	c, ok := CountersOf(b)
	require.True(t, ok)
	assert.Equal(t, Counters{Overflow: 2}, c)
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe("a", "b", PipeOptions{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-b.Frames()
	assert.False(t, ok)
	assert.NoError(t, a.Transmit([]byte{1}), "sending to a closed peer is silently lost")
	assert.True(t, errors.Is(b.Transmit([]byte{1}), ErrEndpointClosed))
}

func TestStreamEndpoint(t *testing.T) {
	inR, inW := io.Pipe()
	var out bytes.Buffer
	ch := tunnel.NewChannel(inR, &out, tunnel.DefaultLimits())
	ep := NewStreamEndpoint("stdio", ch, time.Millisecond)

	go func() {
		_ = tunnel.WriteFrame(inW, []byte("one"), tunnel.DefaultLimits())
		_ = tunnel.WriteFrame(inW, []byte("two"), tunnel.DefaultLimits())
	}()
	assert.Equal(t, []byte("one"), recvFrame(t, ep))
	assert.Equal(t, []byte("two"), recvFrame(t, ep))

	require.NoError(t, ep.Transmit([]byte("up")))
	assert.Equal(t, []byte("\x02\x00\x00\x00up"), out.Bytes())

	inW.Close()
	select {
	case _, ok := <-ep.Frames():
		assert.False(t, ok, "frames must close when the stream ends")
	case <-time.After(time.Second):
		t.Fatal("frames channel did not close")
	}
	assert.True(t, errors.Is(ep.Err(), tunnel.ErrClosed))
	assert.True(t, errors.Is(Cause(ep), tunnel.ErrClosed))
	require.NoError(t, ep.Close())
}

func TestStreamEndpointMalformedPrefix(t *testing.T) {
	inR, inW := io.Pipe()
	ch := tunnel.NewChannel(inR, io.Discard, tunnel.Limits{MaxFrameBytes: 64})
	ep := NewStreamEndpoint("stdio", ch, time.Millisecond)
	defer ep.Close()

	go func() { _, _ = inW.Write([]byte{0xff, 0xff, 0x00, 0x00}) }()

	select {
	case _, ok := <-ep.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frames channel did not close on malformed prefix")
	}
	assert.True(t, errors.Is(ep.Err(), tunnel.ErrFrameTooLarge))
}

func TestStreamEndpointCloseWithoutError(t *testing.T) {
	inR, _ := io.Pipe()
	ep := NewStreamEndpoint("stdio", tunnel.NewChannel(inR, io.Discard, tunnel.DefaultLimits()), 0)
	require.NoError(t, ep.Close())
	_, ok := <-ep.Frames()
	assert.False(t, ok)
	assert.NoError(t, ep.Err())
}

func TestTapRecordsBothDirections(t *testing.T) {
	var buf bytes.Buffer
	rec, err := capture.NewRecorderWriter(&buf, 0)
	require.NoError(t, err)

	a, b := Pipe("a", "b", PipeOptions{})
	tapped := Tap(a, rec, nil)
	defer b.Close()

	require.NoError(t, tapped.Transmit([]byte("out")))
	assert.Equal(t, []byte("out"), recvFrame(t, b))

	require.NoError(t, b.Transmit([]byte("in")))
	assert.Equal(t, []byte("in"), recvFrame(t, tapped))

	assert.Equal(t, 2, rec.Count())
	assert.Equal(t, "a", tapped.Name())

	require.NoError(t, tapped.Close())
	_, ok := <-tapped.Frames()
	assert.False(t, ok)
}

// shortWriter accepts limit bytes and then fails.
type shortWriter struct {
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return 0, errors.New("disk full")
	}
	w.limit -= len(p)
	return len(p), nil
}

func TestTapRecordingFailureKeepsFrames(t *testing.T) {
	rec, err := capture.NewRecorderWriter(&shortWriter{limit: 24}, 0)
	require.NoError(t, err)

	a, b := Pipe("a", "b", PipeOptions{})
	tapped := Tap(a, rec, nil)
	defer b.Close()
	defer tapped.Close()

	require.NoError(t, tapped.Transmit([]byte("out")), "recording failure must not fail an injected frame")
	assert.Equal(t, []byte("out"), recvFrame(t, b))

	require.NoError(t, b.Transmit([]byte("in")))
	assert.Equal(t, []byte("in"), recvFrame(t, tapped))

	assert.Equal(t, uint64(2), tapped.RecordErrors())
	assert.Zero(t, rec.Count())

	c, ok := CountersOf(tapped)
	require.True(t, ok)
	assert.Equal(t, Counters{RecordErrors: 2}, c)
}

func TestInjectLimiter(t *testing.T) {
	var unlimited *injectLimiter
	assert.True(t, unlimited.Allow())
	assert.Nil(t, newInjectLimiter(0, 0))

	l := newInjectLimiter(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, InjectStats{Allowed: 2, Rejected: 1}, l.Stats())
}
