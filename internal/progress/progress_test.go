package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewStepBar(t *testing.T) {
	pb := NewStepBar(7, "harness")
	if pb.total != 7 {
		t.Errorf("total = %d, want 7", pb.total)
	}
	if pb.done != 0 {
		t.Errorf("done = %d, want 0", pb.done)
	}
	if !pb.enabled {
		t.Error("should be enabled by default")
	}
}

func TestStepBar_Advance(t *testing.T) {
	pb := NewStepBar(4, "harness")
	var buf bytes.Buffer
	pb.SetOutput(&buf)

	pb.Advance("position", true)
	out := buf.String()
	if !strings.Contains(out, "harness") {
		t.Errorf("output should contain description, got: %q", out)
	}
	if !strings.Contains(out, "1/4") {
		t.Errorf("output should contain step count, got: %q", out)
	}
	if !strings.Contains(out, "position ok") {
		t.Errorf("output should name the step, got: %q", out)
	}
	if !strings.Contains(out, "Elapsed:") {
		t.Errorf("output should contain elapsed time, got: %q", out)
	}

	buf.Reset()
	pb.Advance("uptime", false)
	if !strings.Contains(buf.String(), "uptime FAILED") {
		t.Errorf("failed step not shown, got: %q", buf.String())
	}
	if pb.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", pb.Failed())
	}
}

func TestStepBar_Full(t *testing.T) {
	pb := NewStepBar(2, "")
	var buf bytes.Buffer
	pb.SetOutput(&buf)

	pb.Advance("a", true)
	pb.Advance("b", true)
	if !strings.Contains(buf.String(), "["+strings.Repeat("=", barWidth)+"]") {
		t.Errorf("full bar expected, got: %q", buf.String())
	}
}

func TestStepBar_ZeroTotal(t *testing.T) {
	pb := NewStepBar(0, "")
	var buf bytes.Buffer
	pb.SetOutput(&buf)

	pb.Advance("x", true)
	if !strings.Contains(buf.String(), "1/0") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestStepBar_Disabled(t *testing.T) {
	pb := NewStepBar(3, "")
	var buf bytes.Buffer
	pb.SetOutput(&buf)
	pb.Disable()

	pb.Advance("position", true)
	pb.Finish()
	if buf.Len() > 0 {
		t.Error("disabled bar should not produce output")
	}
}

func TestStepBar_Finish(t *testing.T) {
	pb := NewStepBar(1, "Done")
	var buf bytes.Buffer
	pb.SetOutput(&buf)

	pb.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish should end with newline")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{0, "0ms"},
		{1500 * time.Millisecond, "1.5s"},
		{30 * time.Second, "30.0s"},
		{90 * time.Second, "1m30s"},
		{5*time.Minute + 15*time.Second, "5m15s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatDuration(tt.d)
			if got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestStatus_Update(t *testing.T) {
	s := NewStatus("bridge", 0)
	var buf bytes.Buffer
	s.SetOutput(&buf)

	s.Update("rx 10 tx 9")
	if !strings.Contains(buf.String(), "bridge: rx 10 tx 9") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestStatus_Throttle(t *testing.T) {
	s := NewStatus("bridge", time.Hour)
	var buf bytes.Buffer
	s.SetOutput(&buf)

	s.Update("rx 1")
	if buf.Len() > 0 {
		t.Error("throttled update should produce no output")
	}
}

func TestStatus_Finish(t *testing.T) {
	s := NewStatus("", 0)
	var buf bytes.Buffer
	s.SetOutput(&buf)

	s.Update("rx 1")
	s.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish should end with newline")
	}
	if strings.Contains(buf.String(), ": rx") {
		t.Errorf("empty description should not add a prefix, got: %q", buf.String())
	}
}
