// Package tui renders live bridge counters and the interactive harness form.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tonylturner/linkshim/internal/bridge"
)

// StatsFunc returns the current per-side bridge counters.
type StatsFunc func() []bridge.SideStats

// tickMsg is sent periodically.
type tickMsg time.Time

// bridgeDoneMsg carries the bridge's exit.
type bridgeDoneMsg struct{ err error }

const tickInterval = 250 * time.Millisecond

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitDone(done <-chan error) tea.Cmd {
	if done == nil {
		return nil
	}
	return func() tea.Msg {
		return bridgeDoneMsg{err: <-done}
	}
}

// WatchModel shows bridge counters until the user quits or the bridge stops.
type WatchModel struct {
	title  string
	stats  StatsFunc
	done   <-chan error
	styles Styles

	started  time.Time
	now      time.Time
	snapshot []bridge.SideStats
	prev     []bridge.SideStats
	prevAt   time.Time
	rates    []float64

	width    int
	paused   bool
	finished bool
	err      error
	notice   string
}

// NewWatchModel creates a watch view. done may be nil.
func NewWatchModel(title string, stats StatsFunc, done <-chan error) *WatchModel {
	now := time.Now()
	m := &WatchModel{
		title:   title,
		stats:   stats,
		done:    done,
		styles:  DefaultStyles,
		started: now,
		now:     now,
		prevAt:  now,
	}
	m.refresh(now)
	return m
}

// Init implements tea.Model.
func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitDone(m.done))
}

// Update implements tea.Model.
func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		if m.finished {
			return m, nil
		}
		if !m.paused {
			m.refresh(time.Time(msg))
		}
		return m, tickCmd()

	case bridgeDoneMsg:
		m.finished = true
		m.err = msg.err
		m.refresh(time.Now())
		return m, tea.Quit

	case clipboardCopyMsg:
		if msg.err != nil {
			m.notice = "copy failed: " + msg.err.Error()
		} else {
			m.notice = "snapshot copied"
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "p", " ":
			m.paused = !m.paused
			return m, nil
		case "c":
			return m, copyToClipboard(FormatSnapshot(m.title, m.snapshot, m.now.Sub(m.started)))
		}
	}
	return m, nil
}

func (m *WatchModel) refresh(now time.Time) {
	snap := m.stats()
	if dt := now.Sub(m.prevAt).Seconds(); dt > 0 && len(m.prev) == len(snap) {
		m.rates = make([]float64, len(snap))
		for i := range snap {
			m.rates[i] = float64(snap[i].Received-m.prev[i].Received) / dt
		}
	}
	m.prev, m.prevAt = snap, now
	m.snapshot = snap
	m.now = now
}

// Err returns the error the bridge stopped with, if it stopped.
func (m *WatchModel) Err() error { return m.err }

// Finished reports whether the bridge stopped while watched.
func (m *WatchModel) Finished() bool { return m.finished }

// View implements tea.Model.
func (m *WatchModel) View() string {
	s := m.styles
	var b strings.Builder

	status := "running"
	switch {
	case m.finished:
		status = "stopped"
	case m.paused:
		status = "paused"
	}
	header := fmt.Sprintf("%s %s  %s  up %s", StatusIcon(status, s), s.Title.Render(m.title), s.Dim.Render(status), m.now.Sub(m.started).Truncate(time.Second))
	b.WriteString(header + "\n")

	for i, side := range m.snapshot {
		var rate float64
		if i < len(m.rates) {
			rate = m.rates[i]
		}
		b.WriteString(m.renderSide(side, rate) + "\n")
	}

	if m.err != nil {
		b.WriteString(s.Error.Render("bridge stopped: "+m.err.Error()) + "\n")
	}
	if m.notice != "" {
		b.WriteString(s.Info.Render(m.notice) + "\n")
	}
	b.WriteString(s.Footer.Render(fmt.Sprintf("%s quit  %s pause  %s copy snapshot",
		s.KeyBinding.Render("q"), s.KeyBinding.Render("p"), s.KeyBinding.Render("c"))))
	return b.String()
}

func (m *WatchModel) renderSide(side bridge.SideStats, rate float64) string {
	s := m.styles
	title := s.Header.Render(side.Name) + s.Dim.Render(" ("+side.Policy+")")
	rows := []string{
		title,
		fmt.Sprintf("received %s  %s",
			s.Bold.Render(fmt.Sprintf("%d", side.Received)),
			s.Dim.Render(fmt.Sprintf("%.1f/s", rate))),
		fmt.Sprintf("forwarded %s", s.Success.Render(fmt.Sprintf("%d", side.Forwarded))),
		fmt.Sprintf("dropped %s  echo %d  self %d  spoofed %d  filtered %d  decode %d",
			s.Warning.Render(fmt.Sprintf("%d", side.Dropped())), side.Echo, side.Self, side.Spoofed, side.Filtered, side.Decode),
	}
	if side.TxError > 0 {
		rows = append(rows, s.Error.Render(fmt.Sprintf("transmit errors %d", side.TxError)))
	}
	box := s.Box
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	return box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// FormatSnapshot renders counters as plain text for the clipboard and logs.
func FormatSnapshot(title string, stats []bridge.SideStats, uptime time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (up %s)\n", title, uptime.Truncate(time.Second))
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIDE\tPOLICY\tRECEIVED\tFORWARDED\tECHO\tSELF\tSPOOFED\tFILTERED\tDECODE\tTXERR")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Name, s.Policy, s.Received, s.Forwarded, s.Echo, s.Self, s.Spoofed, s.Filtered, s.Decode, s.TxError)
	}
	_ = tw.Flush()
	return b.String()
}

// RunWatch shows the watch view until the user quits, done yields, or ctx is
// cancelled. It returns the bridge's error when the bridge stopped first.
func RunWatch(ctx context.Context, title string, stats StatsFunc, done <-chan error) error {
	model := NewWatchModel(title, stats, done)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch view: %w", err)
	}
	return model.Err()
}
