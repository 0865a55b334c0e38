package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kraklabs/usenetsync/pkg/nntp"
)

func writeTestConfig(t *testing.T, dir string, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const minimalValidConfig = `
shutdown_timeout: 30s
database:
  driver: sqlite
  sqlite:
    path: /tmp/usenetsync-test.db
api:
  port: 8080
nntp:
  servers:
    - name: primary
      host: news.example.com
      use_tls: true
ingest:
  staging_dir: /tmp/staging
  dest_dir: /tmp/downloads
  newsgroup: alt.binaries.test
  master_key_path: /tmp/master.key
auth:
  secret: 0123456789abcdef0123456789abcdef
`

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, minimalValidConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.SQLite.Path != "/tmp/usenetsync-test.db" {
		t.Errorf("Database.SQLite.Path = %q", cfg.Database.SQLite.Path)
	}
	if len(cfg.NNTP.Servers) != 1 || cfg.NNTP.Servers[0].Name != "primary" {
		t.Fatalf("NNTP.Servers = %+v", cfg.NNTP.Servers)
	}
	// Port defaulted to 563 since use_tls: true and no explicit port.
	if cfg.NNTP.Servers[0].Port != 563 {
		t.Errorf("NNTP.Servers[0].Port = %d, want 563", cfg.NNTP.Servers[0].Port)
	}
	if cfg.NNTP.Strategy != string(nntp.StrategyFailover) {
		t.Errorf("NNTP.Strategy = %q, want %q", cfg.NNTP.Strategy, nntp.StrategyFailover)
	}
}

func TestLoadInvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, `
shutdown_timeout: 30s
database:
  driver: sqlite
api:
  port: 8080
nntp:
  servers: []
ingest:
  staging_dir: /tmp/staging
  dest_dir: /tmp/downloads
  newsgroup: alt.binaries.test
  master_key_path: /tmp/master.key
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected validation error for empty nntp.servers, got nil")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, minimalValidConfig)

	t.Setenv("USENETSYNC_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG (from env)", cfg.Logging.Level)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.NNTP.Servers = []NNTPServerConfig{{Name: "primary", Host: "news.example.com"}}
	cfg.Ingest.MasterKeyPath = filepath.Join(dir, "master.key")
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after SaveConfig: %v", err)
	}
	if loaded.Ingest.Newsgroup != cfg.Ingest.Newsgroup {
		t.Errorf("Ingest.Newsgroup = %q, want %q", loaded.Ingest.Newsgroup, cfg.Ingest.Newsgroup)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("saved config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestByteSizeDecodeHook(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, strings.Replace(minimalValidConfig, "ingest:\n", "ingest:\n  bandwidth_limit: 5MB\n", 1))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.BandwidthLimit.Uint64() != 5_000_000 {
		t.Errorf("BandwidthLimit = %d, want 5000000", cfg.Ingest.BandwidthLimit.Uint64())
	}
}

func TestDurationDecodeHook(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, minimalValidConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	got := GetDefaultConfigPath()
	want := "/custom/config/usenetsyncd/config.yaml"
	if got != want {
		t.Errorf("GetDefaultConfigPath() = %q, want %q", got, want)
	}
}
