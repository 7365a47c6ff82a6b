package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
	"github.com/tonylturner/linkshim/internal/config"
	lserrors "github.com/tonylturner/linkshim/internal/errors"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath    string
	logLevel      string
	logFile       string
	metricsListen string
}

func (g *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: silent, error, info, verbose, debug")
	pf.StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this rolling file")
	pf.StringVar(&g.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

// loadConfig reads the config file and applies the global overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFile != "" {
		cfg.Logging.File = g.logFile
	}
	if g.metricsListen != "" {
		cfg.Metrics.Listen = g.metricsListen
	}
	return cfg, nil
}

// start builds the runtime once command flags have edited cfg, and starts
// the metrics listener. The returned context ends on SIGINT/SIGTERM.
func (g *globalFlags) start(cfg *config.Config) (context.Context, *app.Runtime, func(), error) {
	source := g.configPath
	if source == "" {
		source = "flags"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, lserrors.WrapConfigError(err, source)
	}
	rt, err := app.NewRuntime(cfg, os.Stderr)
	if err != nil {
		return nil, nil, nil, lserrors.WrapConfigError(err, source)
	}
	rt.Version, rt.Commit = version, commit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if err := rt.StartMetrics(ctx); err != nil {
		stop()
		rt.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		stop()
		rt.Close()
	}
	return ctx, rt, cleanup, nil
}

// radioFlags override the radio section.
type radioFlags struct {
	record     string
	filter     string
	injectRate int
	mac        string
}

func (r *radioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.record, "record", "", "Write every frame seen and sent to this pcap file")
	cmd.Flags().StringVar(&r.filter, "filter", "", "BPF capture filter")
	cmd.Flags().IntVar(&r.injectRate, "inject-rate", 0, "Cap injected frames per second (0 = unlimited)")
	cmd.Flags().StringVar(&r.mac, "mac", "", "Shim identity; frames from this address are never forwarded")
}

func (r *radioFlags) apply(cfg *config.Config) {
	if r.record != "" {
		cfg.Radio.RecordPath = r.record
	}
	if r.filter != "" {
		cfg.Radio.CaptureFilter = r.filter
	}
	if r.injectRate > 0 {
		cfg.Radio.InjectRate = r.injectRate
		if cfg.Radio.InjectBurst == 0 {
			cfg.Radio.InjectBurst = r.injectRate
		}
	}
	if r.mac != "" {
		cfg.Identity.Shim = r.mac
	}
}

// harnessFlags override the harness section.
type harnessFlags struct {
	steps      string
	watchdog   time.Duration
	startDelay time.Duration
	probe      string
	seed       int64
	report     string
	noProgress bool
}

func (h *harnessFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&h.steps, "steps", "", "Comma-separated steps to run, in order (default: all)")
	f.DurationVar(&h.watchdog, "watchdog", 0, "Deadline for the whole run (default from config, 10s)")
	f.DurationVar(&h.startDelay, "start-delay", 0, "Wait before the first request")
	f.StringVar(&h.probe, "probe", "", "MEM_READ probe bytes")
	f.Int64Var(&h.seed, "seed", 0, "Seed for MEM_WRITE slot/value selection (0 = time based)")
	f.StringVar(&h.report, "report", "", "Write a JSON run report to this path")
	f.BoolVar(&h.noProgress, "no-progress", false, "Disable the progress bar")
}

func (h *harnessFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if h.steps != "" {
		cfg.Harness.Steps = splitList(h.steps)
	}
	if f.Changed("watchdog") {
		cfg.Harness.Watchdog = h.watchdog
	}
	if f.Changed("start-delay") {
		cfg.Harness.StartDelay = h.startDelay
	}
	if h.probe != "" {
		cfg.Harness.Probe = h.probe
	}
	if h.seed != 0 {
		cfg.Harness.Seed = h.seed
	}
	if h.report != "" {
		cfg.Harness.ReportPath = h.report
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// stdio returns the command's streams. stdin and stdout stay the process's
// own because they may carry the tunnel.
func stdio(cmd *cobra.Command) app.Stdio {
	s := app.OSStdio()
	s.Err = cmd.ErrOrStderr()
	return s
}
