package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
)

type harnessCmdFlags struct {
	stdio       bool
	txIface     string
	rxIface     string
	interactive bool
	harness     harnessFlags
	radio       radioFlags
}

func newHarnessCmd(global *globalFlags) *cobra.Command {
	flags := &harnessCmdFlags{}

	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Run the diagnostic steps against a device",
		Long: `Send diagnostic requests embedded in 802.11 action frames and validate the
responses, one step at a time: position, uptime, attest, model_info, mem_read,
mem_write, credential_reset.

The harness runs either over the frame tunnel on stdin/stdout (--stdio), or
directly on radios: requests are injected on --tx-iface and responses are
captured on --rx-iface.

Exit codes: 0 all steps passed, 255 a response failed validation,
124 the watchdog expired, 3 the tunnel or radio failed, 1 anything else.`,
		Example: `  # Run directly on two radios and keep a report
  linkshim harness --tx-iface mon1 --rx-iface mon0 --report run.json

  # Pick steps interactively
  linkshim harness --tx-iface mon1 --rx-iface mon0 --interactive

  # Only query identity, with a longer deadline
  linkshim harness --stdio --steps position,uptime,model_info --watchdog 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if !flags.stdio && flags.rxIface == "" {
				return missingFlagError(cmd, "--stdio or --rx-iface")
			}
			return runHarness(cmd, global, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.stdio, "stdio", false, "Run over the frame tunnel on stdin/stdout")
	cmd.Flags().StringVar(&flags.txIface, "tx-iface", "", "Inject requests on this interface (default: --rx-iface)")
	cmd.Flags().StringVar(&flags.rxIface, "rx-iface", "", "Capture responses on this interface")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "Choose steps and timings in a form before running")
	flags.harness.register(cmd)
	flags.radio.register(cmd)
	return cmd
}

func runHarness(cmd *cobra.Command, global *globalFlags, flags *harnessCmdFlags) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	flags.harness.apply(cmd, cfg)
	flags.radio.apply(cfg)
	ctx, rt, cleanup, err := global.start(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = app.RunHarness(ctx, rt, app.HarnessOptions{
		OverStdio:   flags.stdio,
		TxIface:     flags.txIface,
		RxIface:     flags.rxIface,
		Interactive: flags.interactive,
		NoProgress:  flags.harness.noProgress,
		Stdio:       stdio(cmd),
	})
	return err
}
