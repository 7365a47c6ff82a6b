package report

import "time"

// FormatTimestamp returns a RFC3339 UTC timestamp string.
func FormatTimestamp() string {
	return FormatTime(time.Now())
}

// FormatTime renders t as RFC3339 UTC with milliseconds, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
