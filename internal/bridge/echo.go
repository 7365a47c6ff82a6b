package bridge

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tonylturner/linkshim/internal/dot11"
)

// DefaultEchoWindow is how long a transmitted frame is remembered.
const DefaultEchoWindow = time.Second

// echoKey hashes the 802.11 fields of a frame. Radiotap and the sequence
// number are left out: the driver rewrites both on injection.
func echoKey(f dot11.Frame) uint64 {
	d := xxhash.New()
	var flags byte
	if f.FromDS {
		flags |= 1
	}
	if f.ToDS {
		flags |= 2
	}
	_, _ = d.Write([]byte{byte(f.Type), f.Subtype, flags})
	_, _ = d.Write(f.Dst)
	_, _ = d.Write(f.Src)
	_, _ = d.Write(f.BSSID)
	_, _ = d.Write(f.Payload)
	return d.Sum64()
}

type echoMark struct {
	seq    uint64
	origin int
}

type echoExpiry struct {
	key     uint64
	seq     uint64
	expires time.Time
}

// echoFilter remembers frames the bridge transmitted so their captures can be
// dropped. It is a multiset: n identical transmissions absorb n captures.
// Not safe for concurrent use; the bridge loop owns it.
type echoFilter struct {
	window  time.Duration
	now     func() time.Time
	seq     uint64
	pending map[uint64][]echoMark
	queue   []echoExpiry
}

func newEchoFilter(window time.Duration) *echoFilter {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	return &echoFilter{
		window:  window,
		now:     time.Now,
		pending: make(map[uint64][]echoMark),
	}
}

// sent records a frame received on origin and transmitted elsewhere.
func (e *echoFilter) sent(key uint64, origin int) {
	now := e.now()
	e.expire(now)
	e.seq++
	e.pending[key] = append(e.pending[key], echoMark{seq: e.seq, origin: origin})
	e.queue = append(e.queue, echoExpiry{key: key, seq: e.seq, expires: now.Add(e.window)})
}

// match consumes the oldest pending transmission of key that did not
// originate on side. A frame is never an echo on the side it came from.
func (e *echoFilter) match(key uint64, side int) bool {
	e.expire(e.now())
	marks := e.pending[key]
	for i, m := range marks {
		if m.origin == side {
			continue
		}
		e.remove(key, i)
		return true
	}
	return false
}

func (e *echoFilter) remove(key uint64, i int) {
	marks := e.pending[key]
	if len(marks) == 1 {
		delete(e.pending, key)
		return
	}
	e.pending[key] = append(marks[:i], marks[i+1:]...)
}

func (e *echoFilter) expire(now time.Time) {
	n := 0
	for ; n < len(e.queue) && !now.Before(e.queue[n].expires); n++ {
		x := e.queue[n]
		for i, m := range e.pending[x.key] {
			if m.seq == x.seq {
				e.remove(x.key, i)
				break
			}
		}
	}
	if n > 0 {
		e.queue = append(e.queue[:0], e.queue[n:]...)
	}
}

// size returns the number of pending transmissions.
func (e *echoFilter) size() int {
	n := 0
	for _, marks := range e.pending {
		n += len(marks)
	}
	return n
}
