package report

import (
	"github.com/tonylturner/linkshim/internal/errors"
	"github.com/tonylturner/linkshim/internal/metrics"
	"github.com/tonylturner/linkshim/internal/sequencer"
)

// RunReport captures one harness run.
type RunReport struct {
	RunID           string           `json:"run_id"`
	GeneratedAt     string           `json:"generated_at"`
	LinkshimVersion string           `json:"linkshim_version"`
	LinkshimCommit  string           `json:"linkshim_commit,omitempty"`
	Mode            string           `json:"mode"`
	Endpoint        string           `json:"endpoint"`
	Started         string           `json:"started"`
	Finished        string           `json:"finished"`
	DurationMs      float64          `json:"duration_ms"`
	Pass            bool             `json:"pass"`
	ExitCode        int              `json:"exit_code"`
	Error           string           `json:"error,omitempty"`
	Steps           []StepReport     `json:"steps"`
	Summary         *metrics.Summary `json:"summary,omitempty"`
}

// StepReport captures one step of a run.
type StepReport struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Opcode    string  `json:"opcode"`
	State     string  `json:"state"`
	Requests  int     `json:"requests"`
	Responses int     `json:"responses"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

// Meta describes where a run came from.
type Meta struct {
	Version  string
	Commit   string
	Mode     string
	Endpoint string
	Summary  *metrics.Summary
}

// FromResult builds a report from a finished run. err is the error the run
// returned and decides the recorded exit code.
func FromResult(res *sequencer.Result, err error, meta Meta) RunReport {
	r := RunReport{
		GeneratedAt:     FormatTimestamp(),
		LinkshimVersion: meta.Version,
		LinkshimCommit:  meta.Commit,
		Mode:            meta.Mode,
		Endpoint:        meta.Endpoint,
		Summary:         meta.Summary,
		ExitCode:        errors.ExitCodeOf(err),
	}
	if err != nil {
		r.Error = err.Error()
	}
	if res == nil {
		return r
	}

	r.RunID = res.RunID
	r.Started = FormatTime(res.Started)
	r.Finished = FormatTime(res.Finished)
	r.DurationMs = durationMs(res.Finished.Sub(res.Started))
	r.Pass = err == nil && res.Passed()
	r.Steps = make([]StepReport, 0, len(res.Steps))
	for _, s := range res.Steps {
		step := StepReport{
			Index:     s.Index,
			Name:      s.Name,
			Opcode:    s.Opcode.String(),
			State:     s.State.String(),
			Requests:  s.Requests,
			Responses: s.Responses,
			ElapsedMs: durationMs(s.Elapsed),
		}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		r.Steps = append(r.Steps, step)
	}
	return r
}
