package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopPidFile string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running usenetsyncd daemon",
	Long: `Stop a usenetsyncd server started in background (daemon) mode.

This sends SIGTERM to the process recorded in the PID file and waits for
it to exit.

Examples:
  usenetsyncd stop
  usenetsyncd stop --pid-file /var/run/usenetsyncd.pid`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/usenetsyncd/usenetsyncd.pid)")
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := stopPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	pidData, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("no PID file found at %s: usenetsyncd does not appear to be running in background mode", pidPath)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return fmt.Errorf("invalid PID file %s: %w", pidPath, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return fmt.Errorf("process %d is not running (stale PID file removed)", pid)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop process %d: %w", pid, err)
	}

	fmt.Printf("Sent shutdown signal to usenetsyncd (PID %d)\n", pid)

	for i := 0; i < 50; i++ {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Println("usenetsyncd stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Println("usenetsyncd did not stop within 5s; it may still be shutting down")
	return nil
}
