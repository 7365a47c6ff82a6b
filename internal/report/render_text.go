package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// WriteText renders a run report for a terminal.
func WriteText(w io.Writer, r RunReport) error {
	verdict := "PASS"
	if !r.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "Run %s: %s (exit %d)\n", r.RunID, verdict, r.ExitCode)
	if r.Mode != "" || r.Endpoint != "" {
		fmt.Fprintf(w, "  Mode: %s  Endpoint: %s\n", r.Mode, r.Endpoint)
	}
	fmt.Fprintf(w, "  Duration: %.1fms\n", r.DurationMs)
	if r.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
	}

	if len(r.Steps) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tSTEP\tSTATE\tREQ\tRESP\tELAPSED")
		for _, s := range r.Steps {
			elapsed := "-"
			if s.State != "QUEUED" {
				elapsed = fmt.Sprintf("%.1fms", s.ElapsedMs)
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%s\n", s.Index+1, s.Name, s.State, s.Requests, s.Responses, elapsed)
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("render steps: %w", err)
		}
		for _, s := range r.Steps {
			if s.Error != "" {
				fmt.Fprintf(w, "  %s: %s\n", s.Name, s.Error)
			}
		}
	}

	if r.Summary != nil && r.Summary.TotalSteps > 0 {
		sum := r.Summary
		fmt.Fprintf(w, "\nTimings: min %.1fms  avg %.1fms  p95 %.1fms  max %.1fms\n", sum.MinMs, sum.AvgMs, sum.P95Ms, sum.MaxMs)
		ops := make([]string, 0, len(sum.ByOpcode))
		for op := range sum.ByOpcode {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			st := sum.ByOpcode[op]
			fmt.Fprintf(w, "  %-18s %d ok / %d failed, avg %.1fms\n", op, st.Passed, st.Failed, st.AvgMs)
		}
	}
	return nil
}
