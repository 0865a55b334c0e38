package commands

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/pkg/config"
)

var (
	restoreInput string
	restoreForce bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the index database from backup",
	Long: `Restore the usenetsyncd index database from a backup produced by
'usenetsyncd backup'.

IMPORTANT: the server must be stopped before restoring.

Supported backup formats:
  - SQLite database files (.db) - restored by replacing the database file
  - PostgreSQL SQL dumps (.sql) - restored using psql

The restore command auto-detects the backup format from file content.

Examples:
  usenetsyncd restore --input /tmp/usenetsync-backup.db
  usenetsyncd restore --input /tmp/usenetsync-backup.sql --force`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreInput, "input", "i", "", "Input backup file path (required)")
	restoreCmd.Flags().BoolVar(&restoreForce, "force", false, "Skip confirmation prompt")
	_ = restoreCmd.MarkFlagRequired("input")
}

func runRestore(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(restoreInput); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", restoreInput)
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	format, err := detectBackupFormat(restoreInput)
	if err != nil {
		return fmt.Errorf("failed to detect backup format: %w", err)
	}

	if !restoreForce {
		fmt.Printf("WARNING: this will replace the current index database.\n")
		fmt.Printf("  Database: %s (%s)\n", cfg.Database.Driver, databasePath(cfg))
		fmt.Printf("  Backup:   %s (%s format)\n", restoreInput, format)
		fmt.Printf("\nMake sure usenetsyncd is stopped before proceeding.\n")
		fmt.Printf("\nType 'yes' to continue: ")

		var response string
		if _, err := fmt.Scanln(&response); err != nil || strings.ToLower(response) != "yes" {
			return fmt.Errorf("restore cancelled")
		}
	}

	startTime := time.Now()

	switch format {
	case "sqlite":
		if cfg.Database.Driver == "postgres" {
			return fmt.Errorf("cannot restore a SQLite backup onto a postgres database")
		}
		if err := restoreSQLite(restoreInput, cfg.Database.SQLite.Path); err != nil {
			return err
		}
	case "sql":
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("cannot restore a PostgreSQL SQL dump onto a %s database", cfg.Database.Driver)
		}
		if err := psqlRestore(cfg, restoreInput); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported backup format: %s", format)
	}

	fmt.Printf("\nRestore completed successfully\n")
	fmt.Printf("  Source:   %s\n", restoreInput)
	fmt.Printf("  Format:   %s\n", format)
	fmt.Printf("  Target:   %s\n", databasePath(cfg))
	fmt.Printf("  Duration: %s\n", time.Since(startTime).Round(time.Millisecond))

	return nil
}

// detectBackupFormat determines the format of the backup file.
func detectBackupFormat(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	header := make([]byte, 16)
	n, err := file.Read(header)
	if err != nil && err != io.EOF {
		return "", err
	}
	header = header[:n]

	if strings.HasPrefix(string(header), "SQLite format 3") {
		return "sqlite", nil
	}
	if strings.HasPrefix(string(header), "--") || strings.HasPrefix(string(header), "/*") {
		return "sql", nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite", nil
	case ".sql":
		return "sql", nil
	}

	return "", fmt.Errorf("unable to detect backup format for: %s", path)
}

// restoreSQLite restores a SQLite database by replacing the file.
func restoreSQLite(backupPath, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	for _, ext := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(targetPath + ext)
	}

	return copyFile(backupPath, targetPath)
}

// psqlRestore restores a PostgreSQL database from a plain-text SQL dump.
func psqlRestore(cfg *config.Config, backupPath string) error {
	if _, err := exec.LookPath("psql"); err != nil {
		return fmt.Errorf("psql not found in PATH: please install PostgreSQL client tools")
	}

	pg := cfg.Database.Postgres
	args := []string{
		"-h", pg.Host,
		"-p", fmt.Sprintf("%d", pg.Port),
		"-U", pg.User,
		"-d", pg.Database,
		"-f", backupPath,
		"--no-password",
	}

	execCmd := exec.Command("psql", args...)
	execCmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", pg.Password))

	if output, err := execCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("psql restore failed: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// databasePath returns a human-readable description of the configured database.
func databasePath(cfg *config.Config) string {
	if cfg.Database.Driver == "postgres" {
		pg := cfg.Database.Postgres
		return fmt.Sprintf("%s@%s:%d/%s", pg.User, pg.Host, pg.Port, pg.Database)
	}
	return cfg.Database.SQLite.Path
}
