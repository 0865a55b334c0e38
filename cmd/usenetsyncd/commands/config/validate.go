package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the usenetsyncd configuration and run full validation over it,
including checks that struct tags alone cannot express (duplicate NNTP
server names, PostgreSQL fields required only when driver is postgres).

Examples:
  usenetsyncd config validate
  usenetsyncd config validate --config /etc/usenetsyncd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	return nil
}
