package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/app"
)

type connectFlags struct {
	target     string
	deploy     string
	iface      string
	keyFile    string
	knownHosts string
	insecure   bool
	harness    harnessFlags
}

func newConnectCmd(global *globalFlags) *cobra.Command {
	flags := &connectFlags{}

	cmd := &cobra.Command{
		Use:   "connect [flags] -- <shim args>",
		Short: "Launch a shim on a target and drive it over its stdio",
		Long: `Start "linkshim shim" on a target and use the process's stdin/stdout as the
frame tunnel. Everything after -- is passed to the remote shim. The shim's
stderr is logged locally.

Targets:
  local                      run the shim as a local child process
  ssh://user@host[:port]     run the shim over SSH (keys, agent, known_hosts)

Without --iface the diagnostic harness runs over the tunnel. With --iface,
a local monitor interface is bridged to the remote shim instead.`,
		Example: `  # Run the harness through a shim on the drone
  linkshim connect --remote ssh://root@10.0.0.5 -- shim --iface mon0

  # Copy this binary over first, then run it
  linkshim connect --remote ssh://root@10.0.0.5 --deploy ./linkshim -- shim --iface mon0

  # Bridge a local monitor interface to the remote one
  linkshim connect --remote ssh://root@10.0.0.5 --iface mon1 -- shim --iface mon0`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) == 0 {
				return missingFlagError(cmd, "-- <shim args>")
			}
			return runConnect(cmd, global, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.target, "remote", "", "Target: local or ssh://user@host[:port] (default from config)")
	cmd.Flags().StringVar(&flags.deploy, "deploy", "", "Copy this binary to the target before launching")
	cmd.Flags().StringVar(&flags.iface, "iface", "", "Bridge this local monitor interface instead of running the harness")
	cmd.Flags().StringVar(&flags.keyFile, "key", "", "SSH private key file")
	cmd.Flags().StringVar(&flags.knownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	cmd.Flags().BoolVar(&flags.insecure, "insecure", false, "Skip SSH host key verification")
	flags.harness.register(cmd)
	return cmd
}

func runConnect(cmd *cobra.Command, global *globalFlags, flags *connectFlags, args []string) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	flags.harness.apply(cmd, cfg)
	if flags.keyFile != "" {
		cfg.Remote.KeyFile = flags.keyFile
	}
	if flags.knownHosts != "" {
		cfg.Remote.KnownHosts = flags.knownHosts
	}
	if flags.insecure {
		cfg.Remote.Insecure = true
	}
	ctx, rt, cleanup, err := global.start(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = app.RunConnect(ctx, rt, app.ConnectOptions{
		Target:     flags.target,
		Deploy:     flags.deploy,
		Iface:      flags.iface,
		RemoteArgs: args,
		NoProgress: flags.harness.noProgress,
		Stdio:      stdio(cmd),
	})
	return err
}
