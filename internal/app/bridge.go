package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tonylturner/linkshim/internal/bridge"
	"github.com/tonylturner/linkshim/internal/progress"
	"github.com/tonylturner/linkshim/internal/tui"
)

// BridgeOptions configures the radio-to-radio bridge.
type BridgeOptions struct {
	NetworkIface string
	DeviceIface  string
	// TUI shows live counters in a full-screen view. Otherwise a status line
	// is refreshed on stderr every StatusInterval.
	TUI            bool
	StatusInterval time.Duration
	Stdio          Stdio
}

// RunBridge forwards between a network-facing and a device-facing radio
// until ctx is cancelled, an interface fails, or the operator quits the TUI.
func RunBridge(ctx context.Context, rt *Runtime, opts BridgeOptions) error {
	if opts.NetworkIface == "" || opts.DeviceIface == "" {
		return fmt.Errorf("both a network and a device interface are required")
	}
	if opts.NetworkIface == opts.DeviceIface {
		return fmt.Errorf("network and device interface must differ, got %s twice", opts.NetworkIface)
	}
	rec, err := rt.openRecorder()
	if err != nil {
		return err
	}
	defer rt.closeRecorder(rec)

	network, err := rt.openMonitor(opts.NetworkIface, rec)
	if err != nil {
		return err
	}
	defer network.Close()
	device, err := rt.openMonitor(opts.DeviceIface, rec)
	if err != nil {
		return err
	}
	defer device.Close()

	br, err := rt.newBridge(
		[]bridge.Side{
			{Name: "network:" + network.Name(), Endpoint: network},
			{Name: "device:" + device.Name(), Endpoint: device},
		},
		[]int{1, 0},
		[]string{rt.Config.Bridge.NetworkPolicy, rt.Config.Bridge.DevicePolicy},
	)
	if err != nil {
		return err
	}

	err = watchBridge(ctx, br, opts)
	logBridgeStats(rt, br, network, device)
	return shimExit(err, nil, network, device)
}

// watchBridge runs br and shows its counters until it stops or the operator
// quits the TUI.
func watchBridge(ctx context.Context, br *bridge.Bridge, opts BridgeOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	done := make(chan error, 1)
	var runErr error
	go func() {
		runErr = br.Run(ctx)
		close(finished)
		done <- runErr
	}()

	if opts.TUI {
		title := fmt.Sprintf("linkshim bridge %s <-> %s", opts.NetworkIface, opts.DeviceIface)
		watchErr := tui.RunWatch(ctx, title, br.Stats, done)
		cancel()
		<-finished
		if watchErr != nil && runErr == context.Canceled {
			return watchErr
		}
		return runErr
	}

	interval := opts.StatusInterval
	if interval <= 0 {
		interval = time.Second
	}
	status := progress.NewStatus("bridge", interval)
	if opts.Stdio.Err != nil {
		status.SetOutput(opts.Stdio.Err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-finished:
			status.Finish()
			return runErr
		case <-ticker.C:
			status.Update(statusLine(br.Stats()))
		}
	}
}

func statusLine(stats []bridge.SideStats) string {
	parts := make([]string, 0, len(stats))
	for _, s := range stats {
		parts = append(parts, fmt.Sprintf("%s rx %d fwd %d drop %d", s.Name, s.Received, s.Forwarded, s.Dropped()))
	}
	return strings.Join(parts, " | ")
}
