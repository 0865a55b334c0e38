package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/internal/cli/prompt"
	"github.com/kraklabs/usenetsync/pkg/account"
	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/keymanager"
)

var (
	initForce    bool
	initUsername string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration, master key, and admin account",
	Long: `Initialize a fresh usenetsyncd configuration file, generate the
folder-key-sealing master key, generate a JWT signing secret, and create
the initial admin account.

By default the configuration file is created at
$XDG_CONFIG_HOME/usenetsyncd/config.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location, prompting for the admin password
  usenetsyncd init

  # Initialize with a custom path
  usenetsyncd init --config /etc/usenetsyncd/config.yaml

  # Force overwrite an existing config file
  usenetsyncd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().StringVar(&initUsername, "admin-username", "admin", "Username for the initial admin account")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	cfg := config.GetDefaultConfig()
	cfg.Admin.Username = initUsername

	secret, err := randomHexSecret(32)
	if err != nil {
		return fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	cfg.Auth.Secret = secret

	password, err := prompt.PasswordWithConfirmation("Admin password", "Confirm admin password", 8)
	if err != nil {
		return fmt.Errorf("failed to read admin password: %w", err)
	}
	if err := account.ValidatePassword(password); err != nil {
		return fmt.Errorf("invalid admin password: %w", err)
	}
	hash, err := account.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	cfg.Admin.PasswordHash = hash

	// cfg.NNTP.Servers is intentionally empty at this point: it is a
	// required field, so running config.Validate here would always fail
	// on a fresh install. The operator fills in servers by hand, and
	// 'usenetsyncd start' runs full validation once they have.
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	if _, err := keymanager.GenerateMasterKeyFile(cfg.Ingest.MasterKeyPath); err != nil {
		return fmt.Errorf("failed to generate master key: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Printf("Master key generated at: %s\n", cfg.Ingest.MasterKeyPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add at least one NNTP server under 'nntp.servers' in the configuration file")
	fmt.Println("  2. Start the server with: usenetsyncd start")
	fmt.Printf("  3. Or specify a custom config: usenetsyncd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT signing secret has been generated and stored in the config file.")
	fmt.Println("  For production, override it with an environment variable instead:")
	fmt.Println("    export USENETSYNC_AUTH_SECRET=$(openssl rand -hex 32)")

	return nil
}

func randomHexSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
