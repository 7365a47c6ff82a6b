package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// handleHelpArg treats "linkshim <cmd> help" like --help.
func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 || !strings.EqualFold(args[0], "help") {
		return false
	}
	_ = cmd.Help()
	return true
}

// missingFlagError prints usage to stderr and reports the missing flag.
func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Usage()
	return fmt.Errorf("required flag %s not set", flag)
}
