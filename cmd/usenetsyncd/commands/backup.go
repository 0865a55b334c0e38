package commands

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/pkg/config"
)

var backupOutput string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup the index database",
	Long: `Backup the usenetsyncd index database (the folder, file, segment,
and publication metadata tracked in storage.Engine).

For SQLite, the database file is copied directly. For PostgreSQL, pg_dump
is invoked and its plain-text SQL output is written to --output.

Examples:
  usenetsyncd backup --output /tmp/usenetsync-backup.db
  usenetsyncd backup --output /tmp/usenetsync-backup.sql`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path (required)")
	_ = backupCmd.MarkFlagRequired("output")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	startTime := time.Now()

	switch cfg.Database.Driver {
	case "postgres":
		if err := pgDump(cfg, backupOutput); err != nil {
			return err
		}
	default:
		if err := copyFile(cfg.Database.SQLite.Path, backupOutput); err != nil {
			return err
		}
	}

	fmt.Printf("Backup completed successfully\n")
	fmt.Printf("  Driver:   %s\n", cfg.Database.Driver)
	fmt.Printf("  Output:   %s\n", backupOutput)
	fmt.Printf("  Duration: %s\n", time.Since(startTime).Round(time.Millisecond))

	return nil
}

// pgDump shells out to pg_dump to produce a plain-text SQL backup.
func pgDump(cfg *config.Config, outputPath string) error {
	if _, err := exec.LookPath("pg_dump"); err != nil {
		return fmt.Errorf("pg_dump not found in PATH: please install PostgreSQL client tools")
	}

	pg := cfg.Database.Postgres
	args := []string{
		"-h", pg.Host,
		"-p", fmt.Sprintf("%d", pg.Port),
		"-U", pg.User,
		"-d", pg.Database,
		"-f", outputPath,
		"--no-password",
	}

	execCmd := exec.Command("pg_dump", args...)
	execCmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", pg.Password))

	if output, err := execCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_dump failed: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = source.Close() }()

	dest, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() { _ = dest.Close() }()

	if _, err := io.Copy(dest, source); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return dest.Sync()
}
