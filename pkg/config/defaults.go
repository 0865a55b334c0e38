package config

import (
	"strings"
	"time"

	"github.com/kraklabs/usenetsync/pkg/api"
	"github.com/kraklabs/usenetsync/pkg/download"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/scanner"
	"github.com/kraklabs/usenetsync/pkg/storage/postgres"
	"github.com/kraklabs/usenetsync/pkg/storage/sqlite"
	"github.com/kraklabs/usenetsync/pkg/upload"
)

// GetDefaultConfig returns a Config with every default applied and no
// config file read: the configuration a fresh 'usenetsyncd init' starts
// from before the operator fills in NNTP servers and staging paths.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with sensible defaults after
// loading configuration from file and environment. Explicit values are
// preserved; zero values (0, "", false, nil) are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyDatabaseDefaults(&cfg.Database)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyNNTPDefaults(&cfg.NNTP)
	applyAdminDefaults(&cfg.Admin)
	applyAuthDefaults(&cfg.Auth)
	applyIngestDefaults(&cfg.Ingest)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	// Insecure stays false by default; operators opt in explicitly for
	// local development against a non-TLS collector.
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.SQLite.BusyTimeoutMS <= 0 {
		cfg.SQLite.BusyTimeoutMS = 60_000
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "usenetsync.db"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults mirrors api.APIConfig's own unexported applyDefaults
// (Port 8080, Read/Write 10s, Idle 60s): api.NewServer applies it again
// itself, so this only matters for what SaveConfig/Validate see before a
// server is ever constructed.
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyNNTPDefaults(cfg *NNTPConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = string(nntp.StrategyFailover)
	}
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		if srv.Port == 0 {
			if srv.UseTLS {
				srv.Port = 563
			} else {
				srv.Port = 119
			}
		}
		if srv.Timeout == 0 {
			srv.Timeout = 30 * time.Second
		}
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.AccessTokenDuration <= 0 {
		cfg.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.RefreshTokenDuration <= 0 {
		cfg.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

func applyIngestDefaults(cfg *IngestConfig) {
	if cfg.StagingDir == "" {
		cfg.StagingDir = "./data/staging"
	}
	if cfg.DestDir == "" {
		cfg.DestDir = "./data/downloads"
	}
	if cfg.Newsgroup == "" {
		cfg.Newsgroup = "alt.binaries.test"
	}
	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = scanner.DefaultWorkerCount
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = upload.DefaultWorkers
	}
	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = download.DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = 50
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.PublisherBarrierWait <= 0 {
		cfg.PublisherBarrierWait = 30 * time.Second
	}
	if cfg.PublisherScanInterval <= 0 {
		cfg.PublisherScanInterval = 5 * time.Minute
	}
	if cfg.MasterKeyPath == "" {
		cfg.MasterKeyPath = "./data/master.key"
	}
}

// sqliteConfig converts the file-based SQLiteConfig to pkg/storage/sqlite.Config.
func (c SQLiteConfig) sqliteConfig() sqlite.Config {
	return sqlite.Config{Path: c.Path, BusyTimeoutMS: c.BusyTimeoutMS}
}

// postgresConfig converts the file-based PostgresConfig to pkg/storage/postgres.Config.
func (c PostgresConfig) postgresConfig() postgres.Config {
	return postgres.Config{
		Host:         c.Host,
		Port:         c.Port,
		Database:     c.Database,
		User:         c.User,
		Password:     c.Password,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
}
