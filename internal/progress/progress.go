package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 28

// StepBar shows harness progress one diagnostic step at a time.
type StepBar struct {
	mu          sync.Mutex
	total       int
	done        int
	failed      int
	last        string
	startTime   time.Time
	output      io.Writer
	enabled     bool
	description string
}

// NewStepBar creates a bar for total steps
func NewStepBar(total int, description string) *StepBar {
	return &StepBar{
		total:       total,
		startTime:   time.Now(),
		output:      os.Stderr, // stdout may carry the tunnel
		enabled:     true,
		description: description,
	}
}

// SetOutput redirects rendering.
func (p *StepBar) SetOutput(w io.Writer) {
	p.mu.Lock()
	p.output = w
	p.mu.Unlock()
}

// Disable disables the bar
func (p *StepBar) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

// Advance records one finished step and redraws.
func (p *StepBar) Advance(name string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if !ok {
		p.failed++
		p.last = name + " FAILED"
	} else {
		p.last = name + " ok"
	}
	p.render()
}

func (p *StepBar) render() {
	if !p.enabled {
		return
	}

	var percent float64
	if p.total > 0 {
		percent = float64(p.done) / float64(p.total) * 100
	}
	filled := int(float64(barWidth) * percent / 100)
	if filled > barWidth {
		filled = barWidth
	}

	var bar strings.Builder
	bar.WriteString(strings.Repeat("=", filled))
	if filled < barWidth {
		bar.WriteByte('>')
		bar.WriteString(strings.Repeat("-", barWidth-filled-1))
	}

	var out strings.Builder
	out.WriteString("\r")
	if p.description != "" {
		out.WriteString(p.description + " ")
	}
	fmt.Fprintf(&out, "[%s] %d/%d", bar.String(), p.done, p.total)
	if p.last != "" {
		out.WriteString(" " + p.last)
	}
	fmt.Fprintf(&out, " | Elapsed: %s", formatDuration(time.Since(p.startTime)))
	// clear leftovers from a longer previous line
	out.WriteString("\x1b[K")

	fmt.Fprint(p.output, out.String())
}

// Finish ends the bar's line.
func (p *StepBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.render()
	fmt.Fprint(p.output, "\n")
}

// Failed returns the number of failed steps seen.
func (p *StepBar) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// Status prints a throttled single status line, used for long-running bridges.
type Status struct {
	mu          sync.Mutex
	output      io.Writer
	enabled     bool
	description string
	lastUpdate  time.Time
	interval    time.Duration
}

// NewStatus creates a status line that redraws at most once per interval.
func NewStatus(description string, interval time.Duration) *Status {
	return &Status{
		output:      os.Stderr,
		enabled:     true,
		description: description,
		lastUpdate:  time.Now(),
		interval:    interval,
	}
}

// SetOutput redirects rendering.
func (s *Status) SetOutput(w io.Writer) {
	s.mu.Lock()
	s.output = w
	s.mu.Unlock()
}

// Update redraws the line with message unless throttled.
func (s *Status) Update(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	now := time.Now()
	if now.Sub(s.lastUpdate) < s.interval {
		return
	}
	s.lastUpdate = now

	line := message
	if s.description != "" {
		line = s.description + ": " + message
	}
	fmt.Fprint(s.output, "\r"+line+"\x1b[K")
}

// Finish ends the status line.
func (s *Status) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	fmt.Fprint(s.output, "\n")
}
