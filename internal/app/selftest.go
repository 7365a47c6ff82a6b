package app

import (
	"context"
	"io"
	"sync"

	"github.com/tonylturner/linkshim/internal/config"
	"github.com/tonylturner/linkshim/internal/device"
	"github.com/tonylturner/linkshim/internal/radio"
	"github.com/tonylturner/linkshim/internal/sequencer"
)

// SelftestOptions configures the in-process end-to-end run. The harness
// settings, start delay included, come from the runtime's configuration.
type SelftestOptions struct {
	Identity   device.Identity // zero uses the reference device
	Faults     device.Faults
	NoProgress bool
	Stdio      Stdio
}

// RunSelftest wires harness ⇄ tunnel ⇄ shim bridge ⇄ simulated medium ⇄
// simulated device in one process and runs the configured steps through it.
func RunSelftest(ctx context.Context, rt *Runtime, opts SelftestOptions) (*sequencer.Result, error) {
	addrs, err := rt.Addresses()
	if err != nil {
		return nil, err
	}
	// The shim answers for the harness on the medium. Under the device
	// address its network policy would take the device's replies for its own.
	shimRT := rt.withConfig(func(c *config.Config) {
		c.Identity.Shim = c.Identity.Harness
	})

	toShimR, toShimW := io.Pipe()
	fromShimR, fromShimW := io.Pipe()
	controller := rt.streamEndpoint("tunnel", fromShimR, toShimW)
	shimStdio := rt.streamEndpoint("shim-stdio", toShimR, fromShimW)
	air, station := radio.Pipe("air", "device", radio.PipeOptions{
		QueueDepth: rt.Config.Radio.QueueDepth,
		Echo:       true,
	})

	sim := device.New(station, device.Options{
		Addresses: addrs,
		Identity:  opts.Identity,
		Faults:    opts.Faults,
		Logger:    rt.Logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var simErr, shimErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		simErr = sim.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		shimErr = runStreamBridge(runCtx, shimRT, air, shimStdio)
	}()

	res, err := runHarness(ctx, rt, controller, harnessRun{
		Mode:       "selftest",
		Progress:   progressOutput(opts.NoProgress, opts.Stdio.Err),
		TextReport: opts.Stdio.Err,
	})

	// Closing the controller's side ends the shim's stream like a hang-up.
	_ = controller.Close()
	cancel()
	wg.Wait()
	_ = shimStdio.Close()
	_ = air.Close()
	_ = station.Close()

	if shimErr != nil {
		rt.Logger.Error("selftest shim: %v", shimErr)
	}
	if simErr != nil {
		rt.Logger.Error("selftest device: %v", simErr)
	}
	st := sim.Stats()
	rt.Logger.Info("selftest device: %d requests, %d replies, %d dropped, %d malformed, %d credential resets",
		st.Requests, st.Replies, st.Dropped, st.Malformed, st.Resets)
	return res, err
}

// withConfig returns a runtime sharing rt's logger and metrics with a
// modified copy of its configuration.
func (rt *Runtime) withConfig(edit func(*config.Config)) *Runtime {
	cfg := *rt.Config
	edit(&cfg)
	clone := *rt
	clone.Config = &cfg
	return &clone
}
