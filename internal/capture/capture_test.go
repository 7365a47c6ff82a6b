package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio.pcap")
	rec, err := NewRecorder(path, 0)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	frames := [][]byte{
		{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0xd0, 0x00},
		{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x01},
	}
	for _, f := range frames {
		if err := rec.Write(f, time.Unix(1700000000, 0)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if rec.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", rec.Count())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Write(frames[0], time.Now()); err != nil {
		t.Fatalf("Write after Close should be ignored, got %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("pcapgo.NewReader: %v", err)
	}
	if r.LinkType() != layers.LinkTypeIEEE80211Radio {
		t.Fatalf("link type = %v, want IEEE802.11 radiotap", r.LinkType())
	}
	for i, want := range frames {
		data, _, err := r.ReadPacketData()
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("frame %d = %x, want %x", i, data, want)
		}
	}
}

func TestNilRecorder(t *testing.T) {
	var rec *Recorder
	if err := rec.Write([]byte{1}, time.Now()); err != nil {
		t.Errorf("nil recorder Write: %v", err)
	}
	if rec.Count() != 0 {
		t.Error("nil recorder Count should be 0")
	}
	if err := rec.Close(); err != nil {
		t.Errorf("nil recorder Close: %v", err)
	}
}

func TestNewRecorderInvalidPath(t *testing.T) {
	if _, err := NewRecorder("/nonexistent/dir/x.pcap", 0); err == nil {
		t.Error("expected error for invalid path")
	}
}
