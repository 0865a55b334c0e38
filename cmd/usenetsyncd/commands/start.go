package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/internal/telemetry"
	"github.com/kraklabs/usenetsync/pkg/api"
	apiauth "github.com/kraklabs/usenetsync/pkg/api/auth"
	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/foldersync"
	"github.com/kraklabs/usenetsync/pkg/keymanager"
	"github.com/kraklabs/usenetsync/pkg/metrics"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/publisher"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/upload"

	"github.com/kraklabs/usenetsync/pkg/download"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

// folderWatchInterval is how often the background watcher re-scans every
// active folder for local changes, independent of explicit CLI-triggered
// syncs.
const folderWatchInterval = 5 * time.Minute

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the usenetsyncd server",
	Long: `Start the usenetsyncd server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/usenetsyncd/config.yaml.

Examples:
  # Start in background (default)
  usenetsyncd start

  # Start in foreground
  usenetsyncd start --foreground

  # Start with a custom config file
  usenetsyncd start --config /etc/usenetsyncd/config.yaml

  # Start with environment variable overrides
  USENETSYNC_LOGGING_LEVEL=DEBUG usenetsyncd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/usenetsyncd/usenetsyncd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/usenetsyncd/usenetsyncd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "usenetsyncd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	fmt.Println("usenetsyncd - synchronize local folders over Usenet")
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("configuration loaded", logger.Source(getConfigSource(GetConfigFile())))
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", logger.Endpoint(cfg.Telemetry.Endpoint), logger.SampleRate(cfg.Telemetry.SampleRate))
	} else {
		logger.Info("telemetry disabled")
	}

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := storage.Migrate(engine, cfg.Database.Dialect()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := ensureAdminAccount(ctx, engine, cfg); err != nil {
		return fmt.Errorf("failed to ensure admin account: %w", err)
	}

	masterKey, err := keymanager.LoadMasterKeyFile(cfg.Ingest.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w (run 'usenetsyncd init' first)", err)
	}
	keys := keymanager.New(engine)

	nntpPool := nntp.NewPool(cfg.NNTP.ServerConfigs(), cfg.NNTP.PoolStrategy())
	defer func() { _ = nntpPool.Close() }()

	retrier := retry.NewRunner(cfg.Ingest.RateLimitMaxRequests, cfg.Ingest.RateLimitWindow)

	uploadPool := upload.New(upload.Config{
		StagingDir:           cfg.Ingest.StagingDir,
		Workers:              cfg.Ingest.UploadWorkers,
		MaxAttempts:          cfg.Ingest.MaxAttempts,
		Newsgroup:            cfg.Ingest.Newsgroup,
		BandwidthBytesPerSec: float64(cfg.Ingest.BandwidthLimit.Uint64()),
	}, engine, nntpPool, retrier)
	uploadPool.Start(ctx)
	defer uploadPool.Stop(cfg.ShutdownTimeout)

	downloadPool := download.New(download.Config{
		DestDir:     cfg.Ingest.DestDir,
		Workers:     cfg.Ingest.DownloadWorkers,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	}, engine, nntpPool, retrier)
	downloadPool.Start(ctx)
	defer downloadPool.Stop(cfg.ShutdownTimeout)

	pub := publisher.New(publisher.Config{
		Newsgroup:    cfg.Ingest.Newsgroup,
		BarrierWait:  cfg.Ingest.PublisherBarrierWait,
		ScanInterval: cfg.Ingest.PublisherScanInterval,
	}, engine, nntpPool, retrier)
	pub.Start(ctx)
	defer pub.Stop(cfg.ShutdownTimeout)

	syncSvc := foldersync.New(foldersync.Config{
		StagingDir:  cfg.Ingest.StagingDir,
		ScanWorkers: cfg.Ingest.ScanWorkers,
	}, engine, keys, masterKey)
	watcher := foldersync.NewWatcher(syncSvc, engine, folderWatchInterval)
	go watcher.Run(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		registry := metrics.InitRegistry()
		collector := metrics.NewCollector(uploadPool, downloadPool, nntpPool, retrier)
		collector.Start(ctx)
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		logger.Info("metrics enabled", logger.Port(cfg.Metrics.Port))
	} else {
		logger.Info("metrics collection disabled")
	}

	jwtService, err := apiauth.NewJWTService(cfg.Auth.JWTConfig())
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		apiServer = api.NewServer(cfg.API, engine, jwtService, nntpPool, pub)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error", logger.Err(err))
			}
		}()
		logger.Info("API server configured", logger.Port(cfg.API.Port))
	} else {
		logger.Info("API server disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("usenetsyncd is running. Press Ctrl+C to stop.")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", logger.Err(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", logger.Err(err))
		}
	}

	logger.Info("usenetsyncd stopped gracefully")
	return nil
}

// ensureAdminAccount creates the admin account described in cfg.Admin if no
// account with that username exists yet. It is a no-op once the account has
// been created on a prior run.
func ensureAdminAccount(ctx context.Context, engine storage.Engine, cfg *config.Config) error {
	if cfg.Admin.Username == "" || cfg.Admin.PasswordHash == "" {
		return nil
	}

	var existing []storage.User
	if err := engine.FetchAll(ctx, &existing, "SELECT * FROM users WHERE username = ?", cfg.Admin.Username); err != nil {
		return fmt.Errorf("failed to check for admin account: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	user := storage.User{
		ID:           uuid.New().String(),
		Username:     cfg.Admin.Username,
		Email:        cfg.Admin.Email,
		PasswordHash: cfg.Admin.PasswordHash,
	}
	if err := engine.Insert(ctx, &user); err != nil {
		return err
	}
	logger.Info("admin account created", logger.Username(user.Username))
	return nil
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(stateDir, "usenetsyncd.pid")
	}

	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(strings.TrimSpace(string(pidData)), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("usenetsyncd is already running (PID %d)\nUse 'usenetsyncd stop' to stop the running instance", pid)
					}
				}
			}
		}
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(stateDir, "usenetsyncd.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("usenetsyncd started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'usenetsyncd stop' to stop the server")
	fmt.Println("Use 'usenetsyncd status' to check server status")

	return nil
}
