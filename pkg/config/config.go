// Package config loads usenetsyncd's static configuration: logging,
// telemetry, the storage backend, the NNTP server pool, the management
// API, metrics, admin bootstrap, and the ingest/transfer pipeline's
// tuning knobs. Dynamic state (folders, shares, users) lives in the
// database pkg/storage opens, not in this file.
//
// Configuration sources, in precedence order:
//  1. Environment variables (USENETSYNC_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/usenetsync/internal/bytesize"
	"github.com/kraklabs/usenetsync/pkg/api"
)

// Config is usenetsyncd's top-level static configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database selects and configures the storage backend (SQLite or
	// PostgreSQL) behind pkg/storage.Engine.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the local management API server configuration.
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// NNTP lists the Usenet servers the engine posts to and fetches from,
	// and the pool's server-selection strategy.
	NNTP NNTPConfig `mapstructure:"nntp" yaml:"nntp"`

	// Admin contains initial admin account configuration for bootstrap.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Auth configures JWT issuance for the management API.
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Ingest tunes the scan/segment/upload/download/publish pipeline.
	Ingest IngestConfig `mapstructure:"ingest" yaml:"ingest"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When
// enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint. When
// Enabled is false, pkg/metrics.InitRegistry is never called and the
// collector is a no-op.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port /metrics is served on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres" yaml:"driver"`

	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// SQLiteConfig mirrors pkg/storage/sqlite.Config for file-based config
// loading; Load converts it 1:1 when opening the engine.
type SQLiteConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms,omitempty"`
}

// PostgresConfig mirrors pkg/storage/postgres.Config.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host,omitempty"`
	Port         int    `mapstructure:"port" yaml:"port,omitempty"`
	Database     string `mapstructure:"database" yaml:"database,omitempty"`
	User         string `mapstructure:"user" yaml:"user,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode,omitempty"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// NNTPServerConfig mirrors pkg/nntp.ServerConfig for file-based config.
type NNTPServerConfig struct {
	Name     string        `mapstructure:"name" validate:"required" yaml:"name"`
	Host     string        `mapstructure:"host" validate:"required" yaml:"host"`
	Port     int           `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`
	UseTLS   bool          `mapstructure:"use_tls" yaml:"use_tls"`
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// NNTPConfig lists the Usenet server pool and its acquisition strategy.
type NNTPConfig struct {
	Servers []NNTPServerConfig `mapstructure:"servers" validate:"required,min=1,dive" yaml:"servers"`

	// Strategy is one of round_robin, weighted, least_latency, failover
	// (pkg/nntp.Strategy's constants).
	Strategy string `mapstructure:"strategy" validate:"omitempty,oneof=round_robin weighted least_latency failover" yaml:"strategy"`
}

// AdminConfig contains initial admin account configuration for bootstrap,
// used by 'usenetsyncd init' to pre-configure the first account.
type AdminConfig struct {
	// Username is the admin account's username.
	Username string `mapstructure:"username" yaml:"username"`

	// Email is the admin account's email address (optional).
	Email string `mapstructure:"email" yaml:"email,omitempty"`

	// PasswordHash is the bcrypt hash of the admin password, generated
	// during 'usenetsyncd init' or set manually.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
}

// AuthConfig configures JWT issuance for the management API
// (converted to pkg/api/auth.JWTConfig by wire.go).
type AuthConfig struct {
	// Secret is the HMAC signing key for access/refresh tokens. Generated
	// randomly by 'usenetsyncd init' and persisted to the config file;
	// override with the USENETSYNC_AUTH_SECRET environment variable for
	// production deployments instead of keeping it in the file.
	Secret string `mapstructure:"secret" validate:"required,min=32" yaml:"secret"`

	// AccessTokenDuration is the lifetime of issued access tokens.
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration,omitempty"`

	// RefreshTokenDuration is the lifetime of issued refresh tokens.
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration,omitempty"`
}

// IngestConfig tunes the scan/segment/upload/download/publish pipeline.
type IngestConfig struct {
	// StagingDir holds per-segment plaintext staged by ingestion, read by
	// pkg/upload's workers (pkg/upload.Config.StagingDir).
	StagingDir string `mapstructure:"staging_dir" validate:"required" yaml:"staging_dir"`

	// DestDir is where pkg/download writes fetched, decrypted segments
	// (pkg/download.Config.DestDir).
	DestDir string `mapstructure:"dest_dir" validate:"required" yaml:"dest_dir"`

	// Newsgroup is the target newsgroup segment and index articles post to.
	Newsgroup string `mapstructure:"newsgroup" validate:"required" yaml:"newsgroup"`

	ScanWorkers     int `mapstructure:"scan_workers" yaml:"scan_workers,omitempty"`
	UploadWorkers   int `mapstructure:"upload_workers" yaml:"upload_workers,omitempty"`
	DownloadWorkers int `mapstructure:"download_workers" yaml:"download_workers,omitempty"`
	MaxAttempts     int `mapstructure:"max_attempts" yaml:"max_attempts,omitempty"`

	// BandwidthLimit caps outbound posting throughput; zero means
	// unlimited. Human-readable sizes are accepted ("5MB", "500Ki").
	BandwidthLimit bytesize.ByteSize `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit,omitempty"`

	// RateLimitMaxRequests/RateLimitWindow size pkg/retry.Runner's sliding
	// rate limiter.
	RateLimitMaxRequests int           `mapstructure:"rate_limit_max_requests" yaml:"rate_limit_max_requests,omitempty"`
	RateLimitWindow      time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window,omitempty"`

	// PublisherBarrierWait/PublisherScanInterval size pkg/publisher.Config.
	PublisherBarrierWait  time.Duration `mapstructure:"publisher_barrier_wait" yaml:"publisher_barrier_wait,omitempty"`
	PublisherScanInterval time.Duration `mapstructure:"publisher_scan_interval" yaml:"publisher_scan_interval,omitempty"`

	// MasterKeyPath is the path to the caller-held master key that seals
	// every folder's keypair at rest (pkg/keymanager's masterKey
	// parameter). The file holds 32 raw bytes.
	MasterKeyPath string `mapstructure:"master_key_path" validate:"required" yaml:"master_key_path"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (USENETSYNC_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file is found, Load returns GetDefaultConfig()
// unchanged: environment variables are not applied and Validate is not run.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when no
// config file exists yet.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  usenetsyncd init\n\n"+
				"Or specify a custom config file:\n"+
				"  usenetsyncd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  usenetsyncd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: config may hold admin.password_hash and NNTP credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("USENETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind every Config key so Unmarshal sees USENETSYNC_* variables for
	// keys the file leaves out; AutomaticEnv alone only covers known keys.
	var bindEnv func(t reflect.Type, prefix string)
	bindEnv = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			key := prefix + strings.Split(field.Tag.Get("mapstructure"), ",")[0]
			if field.Type.Kind() == reflect.Struct {
				bindEnv(field.Type, key+".")
				continue
			}
			_ = v.BindEnv(key)
		}
	}
	bindEnv(reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the ByteSize and time.Duration decode hooks.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook lets config files use human-readable sizes like
// "1Gi", "500Mi", "100MB", or plain numbers, for bytesize.ByteSize fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets config files use human-readable durations like
// "30s", "5m", "1h" for time.Duration fields.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME,
// ~/.config, or "." as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "usenetsyncd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "usenetsyncd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
