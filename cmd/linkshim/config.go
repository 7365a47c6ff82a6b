package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/config"
	lserrors "github.com/tonylturner/linkshim/internal/errors"
)

func newConfigCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd(global))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Example: `  linkshim config init --out linkshim.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if out == "" {
				return missingFlagError(cmd, "--out")
			}
			if err := config.WriteDefault(out); err != nil {
				return lserrors.WrapConfigError(err, out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output path (required)")
	return cmd
}

func newConfigValidateCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the --config file",
		Example: `  linkshim --config linkshim.yaml config validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if global.configPath == "" {
				return missingFlagError(cmd, "--config")
			}
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return lserrors.WrapConfigError(err, global.configPath)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (steps: %v)\n", global.configPath, cfg.Harness.Steps)
			return nil
		},
	}
}
