package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
)

type bridgeFlags struct {
	networkIface string
	deviceIface  string
	tui          bool
	statusEvery  time.Duration
	radio        radioFlags
}

func newBridgeCmd(global *globalFlags) *cobra.Command {
	flags := &bridgeFlags{}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridge a network-facing radio to a device-facing radio",
		Long: `Forward frames between two monitor-mode interfaces.

Frames from the network side are dropped when they come from the shim's own
address, or when they are action frames whose source differs from their
network identifier. Frames from the device side are limited to action frames,
and frames for other stations must come from the infrastructure.

Policies can be changed in the bridge section of the config file.`,
		Example: `  # Bridge with a live counter view
  linkshim bridge --network-iface mon1 --device-iface mon0 --tui

  # Record everything that crosses the bridge
  linkshim bridge --network-iface mon1 --device-iface mon0 --record bridge.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.networkIface == "" {
				return missingFlagError(cmd, "--network-iface")
			}
			if flags.deviceIface == "" {
				return missingFlagError(cmd, "--device-iface")
			}
			return runBridge(cmd, global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.networkIface, "network-iface", "", "Network-facing monitor interface (required)")
	cmd.Flags().StringVar(&flags.deviceIface, "device-iface", "", "Device-facing monitor interface (required)")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Show live counters in a full-screen view")
	cmd.Flags().DurationVar(&flags.statusEvery, "status-every", time.Second, "Status line refresh interval without --tui")
	flags.radio.register(cmd)
	return cmd
}

func runBridge(cmd *cobra.Command, global *globalFlags, flags *bridgeFlags) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	flags.radio.apply(cfg)
	ctx, rt, cleanup, err := global.start(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return app.RunBridge(ctx, rt, app.BridgeOptions{
		NetworkIface:   flags.networkIface,
		DeviceIface:    flags.deviceIface,
		TUI:            flags.tui,
		StatusInterval: flags.statusEvery,
		Stdio:          stdio(cmd),
	})
}
