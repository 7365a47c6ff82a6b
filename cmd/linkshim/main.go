package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonylturner/linkshim/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	global := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "linkshim",
		Short: "Radio-link bridge and diagnostic protocol harness",
		Long: `linkshim tunnels raw 802.11 frames between monitor-mode radios and a
controlling process, bridges two radios while filtering loops, and drives a
sequential diagnostic exchange carried in action frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	global.register(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newShimCmd(global))
	rootCmd.AddCommand(newBridgeCmd(global))
	rootCmd.AddCommand(newHarnessCmd(global))
	rootCmd.AddCommand(newConnectCmd(global))
	rootCmd.AddCommand(newSelftestCmd(global))
	rootCmd.AddCommand(newConfigCmd(global))

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != cmd.Root() {
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Usage:\n  %s <command> [arguments] [options]\n\n", cmd.Name())
		fmt.Fprintf(cmd.OutOrStdout(), "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errors.ExitCodeOf(err))
	}
}
