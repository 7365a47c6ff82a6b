package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/tonylturner/linkshim/internal/config"
	"github.com/tonylturner/linkshim/internal/diag"
	lserrors "github.com/tonylturner/linkshim/internal/errors"
	"github.com/tonylturner/linkshim/internal/metrics"
	"github.com/tonylturner/linkshim/internal/progress"
	"github.com/tonylturner/linkshim/internal/radio"
	"github.com/tonylturner/linkshim/internal/report"
	"github.com/tonylturner/linkshim/internal/sequencer"
	"github.com/tonylturner/linkshim/internal/tui"
)

// HarnessOptions configures a diagnostic run.
type HarnessOptions struct {
	// OverStdio runs the harness over the tunnel on stdin/stdout. Otherwise
	// requests are injected on TxIface and responses captured on RxIface.
	OverStdio bool
	TxIface   string
	RxIface   string

	Interactive bool
	NoProgress  bool
	Stdio       Stdio
}

// RunHarness runs the configured diagnostic steps once and writes the report.
func RunHarness(ctx context.Context, rt *Runtime, opts HarnessOptions) (*sequencer.Result, error) {
	if opts.Interactive {
		if err := chooseSteps(rt.Config); err != nil {
			return nil, err
		}
	}

	var ep radio.Endpoint
	mode := "stdio"
	if opts.OverStdio {
		ep = rt.stdioEndpoint(opts.Stdio.In, opts.Stdio.Out)
	} else {
		if opts.RxIface == "" {
			return nil, fmt.Errorf("either --stdio or --rx-iface is required")
		}
		rec, err := rt.openRecorder()
		if err != nil {
			return nil, err
		}
		defer rt.closeRecorder(rec)
		if ep, err = rt.openRadio(opts.RxIface, opts.TxIface, rec); err != nil {
			return nil, err
		}
		mode = "radio"
	}
	defer ep.Close()

	return runHarness(ctx, rt, ep, harnessRun{
		Mode:       mode,
		Progress:   progressOutput(opts.NoProgress, opts.Stdio.Err),
		TextReport: opts.Stdio.Err,
	})
}

func progressOutput(disabled bool, w io.Writer) io.Writer {
	if disabled {
		return nil
	}
	return w
}

// chooseSteps lets the operator edit the harness section before the run.
func chooseSteps(cfg *config.Config) error {
	h := &cfg.Harness
	choices, err := tui.RunHarnessForm(tui.HarnessChoices{
		Steps:      h.Steps,
		Watchdog:   h.Watchdog,
		StartDelay: h.StartDelay,
		Probe:      h.Probe,
	})
	if err != nil {
		return err
	}
	h.Steps = choices.Steps
	h.Watchdog = choices.Watchdog
	h.StartDelay = choices.StartDelay
	h.Probe = choices.Probe
	return nil
}

// harnessRun is what differs between the harness entry points.
type harnessRun struct {
	Mode       string
	Progress   io.Writer // nil disables the step bar
	TextReport io.Writer // nil skips the text summary
}

// runHarness drives the sequencer over ep and reports the outcome. The
// returned error carries the process exit code.
func runHarness(ctx context.Context, rt *Runtime, ep radio.Endpoint, run harnessRun) (*sequencer.Result, error) {
	h := rt.Config.Harness
	addrs, err := rt.Addresses()
	if err != nil {
		return nil, err
	}
	plan, err := harnessPlan(h)
	if err != nil {
		return nil, err
	}
	steps, err := sequencer.BuildSteps(plan)
	if err != nil {
		return nil, err
	}

	bar := progress.NewStepBar(len(steps), "harness")
	if run.Progress != nil {
		bar.SetOutput(run.Progress)
	} else {
		bar.Disable()
	}
	sink := metrics.NewSink()

	watchdog := h.Watchdog
	if watchdog == 0 {
		watchdog = -1
	}
	seq := sequencer.New(ep, steps, sequencer.Options{
		Addresses:  addrs,
		Watchdog:   watchdog,
		StartDelay: h.StartDelay,
		Logger:     rt.Logger,
		OnStep: func(r sequencer.StepResult) {
			ok := r.State == sequencer.StateAdvanced
			bar.Advance(r.Name, ok)
			rt.Metrics.Step(r.Opcode.String(), ok, r.Elapsed)
			m := metrics.StepMetric{
				Timestamp: r.Started,
				Step:      r.Name,
				Opcode:    r.Opcode.String(),
				Success:   ok,
				Elapsed:   r.Elapsed,
				Responses: r.Responses,
			}
			if r.Err != nil {
				m.Error = r.Err.Error()
			}
			sink.Record(m)
		},
	})

	res, runErr := seq.Run(ctx)
	bar.Finish()
	err = harnessError(runErr, res, ep)

	rep := report.FromResult(res, err, report.Meta{
		Version:  rt.Version,
		Commit:   rt.Commit,
		Mode:     run.Mode,
		Endpoint: ep.Name(),
		Summary:  sink.GetSummary(),
	})
	if h.ReportPath != "" {
		if werr := report.WriteJSONFile(h.ReportPath, rep); werr != nil {
			rt.Logger.Error("write report: %v", werr)
		} else {
			rt.Logger.Info("report written to %s", h.ReportPath)
		}
	}
	if run.TextReport != nil {
		if werr := report.WriteText(run.TextReport, rep); werr != nil {
			rt.Logger.Error("print report: %v", werr)
		}
	}
	return res, err
}

// harnessPlan turns the harness section into a step plan.
func harnessPlan(h config.HarnessConfig) (sequencer.Plan, error) {
	ops := make([]diag.Opcode, 0, len(h.Steps))
	for _, name := range h.Steps {
		op, err := diag.ParseOpcode(name)
		if err != nil {
			return sequencer.Plan{}, err
		}
		ops = append(ops, op)
	}
	if len(h.PositionMarkers) != 2 {
		return sequencer.Plan{}, fmt.Errorf("harness.position_markers must hold exactly two markers")
	}
	exp := diag.Expectations{
		PositionMarkers: [2][]byte{[]byte(h.PositionMarkers[0]), []byte(h.PositionMarkers[1])},
		UptimeMarker:    []byte(h.UptimeMarker),
	}
	for _, m := range h.ModelMarkers {
		exp.ModelMarkers = append(exp.ModelMarkers, []byte(m))
	}
	seed := h.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return sequencer.Plan{
		Opcodes:      ops,
		Expectations: exp,
		Probe:        []byte(h.Probe),
		Rand:         rand.New(rand.NewSource(seed)),
	}, nil
}

// harnessError attaches an exit code and operator hints to a run error.
func harnessError(err error, res *sequencer.Result, ep radio.Endpoint) error {
	if err == nil {
		return nil
	}
	step := failedStep(res)
	switch {
	case diag.IsValidationError(err):
		return lserrors.WrapValidationError(err, step)
	case errors.Is(err, sequencer.ErrWatchdog):
		return lserrors.WrapWatchdogError(err, step)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return lserrors.WrapTransportError(err, ep.Name())
	}
}

// failedStep names the step a run stopped on.
func failedStep(res *sequencer.Result) string {
	if res == nil {
		return "start delay"
	}
	for _, s := range res.Steps {
		if s.State == sequencer.StateFailed || s.State == sequencer.StateInFlight {
			return s.Name
		}
	}
	return "start delay"
}
