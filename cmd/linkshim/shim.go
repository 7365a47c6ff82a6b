package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
)

type shimFlags struct {
	iface       string
	deviceIface string
	radio       radioFlags
}

func newShimCmd(global *globalFlags) *cobra.Command {
	flags := &shimFlags{}

	cmd := &cobra.Command{
		Use:   "shim",
		Short: "Tunnel a monitor interface over stdin/stdout",
		Long: `Capture 802.11 frames on a monitor-mode interface and write them to stdout as
length-prefixed frames (u32 little-endian length, then the frame). Frames read
from stdin are injected.

Self-sourced frames are never forwarded, and action frames are only forwarded
when their source equals their network identifier. With --device-iface,
frames from the tunnel are injected on that interface instead.

The shim exits cleanly when stdin closes. All logging goes to stderr.`,
		Example: `  # Run on the drone, driven over SSH by "linkshim connect"
  linkshim shim --iface mon0

  # Capture on mon1, inject toward the device on mon0
  linkshim shim --iface mon1 --device-iface mon0 --mac 02:00:00:00:00:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.iface == "" {
				return missingFlagError(cmd, "--iface")
			}
			return runShim(cmd, global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.iface, "iface", "", "Monitor-mode interface to capture on (required)")
	cmd.Flags().StringVar(&flags.deviceIface, "device-iface", "", "Inject tunnel frames on this interface instead")
	flags.radio.register(cmd)
	return cmd
}

func runShim(cmd *cobra.Command, global *globalFlags, flags *shimFlags) error {
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

	return app.RunShim(ctx, rt, app.ShimOptions{
		Iface:       flags.iface,
		DeviceIface: flags.deviceIface,
		Stdio:       stdio(cmd),
	})
}
