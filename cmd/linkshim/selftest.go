package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
	"github.com/tonylturner/linkshim/internal/device"
	"github.com/tonylturner/linkshim/internal/diag"
)

type selftestFlags struct {
	drop      string
	corrupt   string
	dropEvery int
	dropPct   float64
	delay     time.Duration
	jitter    time.Duration
	faultSeed int64
	harness   harnessFlags
}

func newSelftestCmd(global *globalFlags) *cobra.Command {
	flags := &selftestFlags{}

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run the harness against a simulated device in-process",
		Long: `Run the whole chain in one process: harness, frame tunnel, shim bridge,
a simulated radio medium and a simulated device. No radio hardware is needed.

Fault flags make the simulated device misbehave, to check that the harness
reports validation failures (exit 255) and watchdog expiry (exit 124).`,
		Example: `  # Everything should pass
  linkshim selftest

  # Never answer UPTIME; expect exit 124
  linkshim selftest --drop uptime --watchdog 2s

  # Mangle MODEL_INFO; expect exit 255
  linkshim selftest --corrupt model_info`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runSelftest(cmd, global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.drop, "drop", "", "Never answer these opcodes (comma-separated)")
	cmd.Flags().StringVar(&flags.corrupt, "corrupt", "", "Corrupt responses to these opcodes (comma-separated)")
	cmd.Flags().IntVar(&flags.dropEvery, "drop-every", 0, "Drop every Nth response")
	cmd.Flags().Float64Var(&flags.dropPct, "drop-pct", 0, "Drop responses with this probability (0..1)")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "Delay every response")
	cmd.Flags().DurationVar(&flags.jitter, "jitter", 0, "Add up to this much random delay")
	cmd.Flags().Int64Var(&flags.faultSeed, "fault-seed", 0, "Seed for random faults")
	flags.harness.register(cmd)
	return cmd
}

func (f *selftestFlags) faults() (device.Faults, error) {
	drop, err := parseOpcodes(f.drop)
	if err != nil {
		return device.Faults{}, fmt.Errorf("--drop: %w", err)
	}
	corrupt, err := parseOpcodes(f.corrupt)
	if err != nil {
		return device.Faults{}, fmt.Errorf("--corrupt: %w", err)
	}
	if f.dropPct < 0 || f.dropPct > 1 {
		return device.Faults{}, fmt.Errorf("--drop-pct must be between 0 and 1")
	}
	return device.Faults{
		Drop:       drop,
		Corrupt:    corrupt,
		DropEveryN: f.dropEvery,
		DropPct:    f.dropPct,
		Delay:      f.delay,
		Jitter:     f.jitter,
		Seed:       f.faultSeed,
	}, nil
}

func parseOpcodes(list string) ([]diag.Opcode, error) {
	var ops []diag.Opcode
	for _, name := range splitList(list) {
		op, err := diag.ParseOpcode(name)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func runSelftest(cmd *cobra.Command, global *globalFlags, flags *selftestFlags) error {
	faults, err := flags.faults()
	if err != nil {
		return err
	}
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	flags.harness.apply(cmd, cfg)
	ctx, rt, cleanup, err := global.start(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = app.RunSelftest(ctx, rt, app.SelftestOptions{
		Faults:     faults,
		NoProgress: flags.harness.noProgress,
		Stdio:      stdio(cmd),
	})
	return err
}
