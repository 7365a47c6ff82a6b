package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonylturner/linkshim/internal/dot11"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestFilter(window time.Duration) (*echoFilter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	e := newEchoFilter(window)
	e.now = clock.now
	return e, clock
}

func TestEchoFilterMatchesOtherSidesOnly(t *testing.T) {
	e, _ := newTestFilter(time.Second)

	e.sent(42, 0)
	assert.False(t, e.match(42, 0), "the origin side never sees an echo")
	assert.True(t, e.match(42, 1))
	assert.False(t, e.match(42, 1), "one transmission absorbs one capture")
	assert.Zero(t, e.size())
}

func TestEchoFilterExpires(t *testing.T) {
	e, clock := newTestFilter(100 * time.Millisecond)

	e.sent(1, 0)
	clock.t = clock.t.Add(50 * time.Millisecond)
	e.sent(1, 0)
	e.sent(2, 0)
	require.Equal(t, 3, e.size())

	clock.t = clock.t.Add(60 * time.Millisecond)
	assert.True(t, e.match(1, 1))
	assert.False(t, e.match(1, 1), "the first transmission has expired")
	assert.True(t, e.match(2, 1))

	e.sent(3, 1)
	clock.t = clock.t.Add(time.Second)
	assert.False(t, e.match(3, 0))
	assert.Zero(t, e.size())
	assert.Empty(t, e.queue)
}

func TestEchoFilterDefaultWindow(t *testing.T) {
	assert.Equal(t, DefaultEchoWindow, newEchoFilter(0).window)
}

func TestEchoKeyIgnoresRadiotap(t *testing.T) {
	hdr := dot11.Header{Dst: deviceMAC, Src: otherMAC, BSSID: otherMAC}
	body := []byte{0x17, 0x00, 0x01, 0x00}
	raw, err := dot11.BuildAction(hdr, body)
	require.NoError(t, err)
	f, err := dot11.Parse(raw)
	require.NoError(t, err)

	// a capture with a longer radiotap header carrying a flags field
	captured := append([]byte{0x00, 0x00, 0x09, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00}, raw[radiotapLen(raw):]...)
	g, err := dot11.Parse(captured)
	require.NoError(t, err)
	assert.Equal(t, echoKey(f), echoKey(g))

	other, err := dot11.BuildAction(hdr, []byte{0x17, 0x00, 0x02, 0x00})
	require.NoError(t, err)
	h, err := dot11.Parse(other)
	require.NoError(t, err)
	assert.NotEqual(t, echoKey(f), echoKey(h))
}

func radiotapLen(raw []byte) int {
	return int(raw[2]) | int(raw[3])<<8
}
