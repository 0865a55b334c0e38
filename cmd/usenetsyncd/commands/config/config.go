// Package config implements the usenetsyncd "config" command group.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the "config" parent command, added to the root command by
// cmd/usenetsyncd/commands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage usenetsyncd configuration",
	Long:  `View and validate the usenetsyncd configuration file.`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
}
