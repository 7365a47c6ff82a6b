package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultSnapLen is the snap length written to recording headers.
const DefaultSnapLen = 65535

// Recorder writes radiotap frames to a pcap stream. It is safe for
// concurrent use so one recorder can serve several endpoints.
type Recorder struct {
	mu     sync.Mutex
	writer *pcapgo.Writer
	file   io.Closer
	count  int
	closed bool
}

// NewRecorder creates path and writes a pcap header for 802.11 + radiotap.
func NewRecorder(path string, snaplen uint32) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	r, err := NewRecorderWriter(file, snaplen)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.file = file
	return r, nil
}

// NewRecorderWriter records to an arbitrary writer.
func NewRecorderWriter(w io.Writer, snaplen uint32) (*Recorder, error) {
	if snaplen == 0 {
		snaplen = DefaultSnapLen
	}
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snaplen, layers.LinkTypeIEEE80211Radio); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{writer: writer}, nil
}

// Write records one frame. Writes after Close are ignored.
func (r *Recorder) Write(data []byte, ts time.Time) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of recorded frames.
func (r *Recorder) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying file (idempotent).
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
