package tui

import "github.com/charmbracelet/lipgloss"

// Palette holds the colors of the watch view.
type Palette struct {
	Text   lipgloss.Color
	Faint  lipgloss.Color
	Frame  lipgloss.Color
	Accent lipgloss.Color

	Forwarded lipgloss.Color
	Dropped   lipgloss.Color
	Failure   lipgloss.Color
	Notice    lipgloss.Color
}

// DarkPalette suits dark terminals.
var DarkPalette = Palette{
	Text:   lipgloss.Color("#c0caf5"),
	Faint:  lipgloss.Color("#565f89"),
	Frame:  lipgloss.Color("#414868"),
	Accent: lipgloss.Color("#7aa2f7"),

	Forwarded: lipgloss.Color("#9ece6a"),
	Dropped:   lipgloss.Color("#e0af68"),
	Failure:   lipgloss.Color("#f7768e"),
	Notice:    lipgloss.Color("#7dcfff"),
}

// Styles are the rendered styles derived from a Palette.
type Styles struct {
	Title      lipgloss.Style
	Header     lipgloss.Style
	Dim        lipgloss.Style
	Bold       lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Info       lipgloss.Style
	KeyBinding lipgloss.Style
	Footer     lipgloss.Style
	Box        lipgloss.Style
}

// NewStyles derives Styles from p.
func NewStyles(p Palette) Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Styles{
		Title:      fg(p.Accent).Bold(true).Padding(0, 1),
		Header:     fg(p.Accent).Bold(true),
		Dim:        fg(p.Faint),
		Bold:       fg(p.Text).Bold(true),
		Success:    fg(p.Forwarded),
		Warning:    fg(p.Dropped),
		Error:      fg(p.Failure),
		Info:       fg(p.Notice),
		KeyBinding: fg(p.Accent).Bold(true),
		Footer:     fg(p.Faint),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Frame).
			Padding(0, 1),
	}
}

// DefaultStyles uses DarkPalette.
var DefaultStyles = NewStyles(DarkPalette)

// StatusIcon renders the bridge state marker.
func StatusIcon(status string, s Styles) string {
	switch status {
	case "running":
		return s.Success.Render("●")
	case "stopped":
		return s.Error.Render("●")
	case "paused":
		return s.Warning.Render("●")
	}
	return s.Dim.Render("○")
}
