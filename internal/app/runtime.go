// Package app holds the bodies of the linkshim commands. Each Run* function
// takes a Runtime built from the loaded configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonylturner/linkshim/internal/capture"
	"github.com/tonylturner/linkshim/internal/config"
	"github.com/tonylturner/linkshim/internal/diag"
	"github.com/tonylturner/linkshim/internal/dot11"
	"github.com/tonylturner/linkshim/internal/logging"
	"github.com/tonylturner/linkshim/internal/metrics"
	"github.com/tonylturner/linkshim/internal/tunnel"
)

// Runtime carries the process-wide pieces every command needs.
type Runtime struct {
	Config   *config.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.LinkMetrics

	// Version and Commit end up in harness reports.
	Version string
	Commit  string
}

// NewRuntime creates the logger and metrics for cfg. Console output goes to
// console (stderr in the CLI) because stdout may carry the tunnel.
func NewRuntime(cfg *config.Config, console io.Writer) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLoggerWithOptions(level, console, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	reg := metrics.NewRegistry()
	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.NewLinkMetrics(reg),
	}, nil
}

// Close flushes the logger.
func (rt *Runtime) Close() error {
	return rt.Logger.Close()
}

// StartMetrics serves the registry when metrics.listen is configured. It
// stops when ctx is cancelled.
func (rt *Runtime) StartMetrics(ctx context.Context) error {
	listen := rt.Config.Metrics.Listen
	if listen == "" {
		return nil
	}
	addr, done, err := metrics.Serve(ctx, listen, rt.Config.Metrics.Path, rt.Registry)
	if err != nil {
		return fmt.Errorf("metrics listener on %s: %w", listen, err)
	}
	rt.Logger.Info("metrics on http://%s%s", addr, rt.Config.Metrics.Path)
	go func() {
		if err := <-done; err != nil {
			rt.Logger.Error("metrics server: %v", err)
		}
	}()
	return nil
}

// Addresses returns the diagnostic address pair from the identity section.
func (rt *Runtime) Addresses() (diag.Addresses, error) {
	device, err := dot11.ParseMAC(rt.Config.Identity.Device)
	if err != nil {
		return diag.Addresses{}, fmt.Errorf("identity.device: %w", err)
	}
	harness, err := dot11.ParseMAC(rt.Config.Identity.Harness)
	if err != nil {
		return diag.Addresses{}, fmt.Errorf("identity.harness: %w", err)
	}
	return diag.Addresses{Device: device, Harness: harness}, nil
}

// Limits returns the tunnel size limits.
func (rt *Runtime) Limits() tunnel.Limits {
	return tunnel.Limits{MaxFrameBytes: rt.Config.Tunnel.MaxFrameBytes}
}

// openRecorder opens the pcap recorder when radio.record is set. It returns
// nil, nil otherwise.
func (rt *Runtime) openRecorder() (*capture.Recorder, error) {
	path := rt.Config.Radio.RecordPath
	if path == "" {
		return nil, nil
	}
	rec, err := capture.NewRecorder(path, uint32(rt.Config.Radio.SnapLen))
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	rt.Logger.Info("recording frames to %s", path)
	return rec, nil
}

// closeRecorder closes rec and reports how much it wrote.
func (rt *Runtime) closeRecorder(rec *capture.Recorder) {
	if rec == nil {
		return
	}
	count := rec.Count()
	if err := rec.Close(); err != nil {
		rt.Logger.Error("close recording: %v", err)
		return
	}
	rt.Logger.Info("recorded %d frames to %s", count, rt.Config.Radio.RecordPath)
}

// Stdio is the process's standard streams, replaced in tests.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// OSStdio returns the real standard streams.
func OSStdio() Stdio {
	return Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}
