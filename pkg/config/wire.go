package config

import (
	"fmt"

	"github.com/kraklabs/usenetsync/pkg/api/auth"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/storage/postgres"
	"github.com/kraklabs/usenetsync/pkg/storage/sqlite"
)

// OpenEngine opens the storage backend the config selects. Callers own
// the returned Engine's lifetime and must Close it.
func (c DatabaseConfig) OpenEngine() (storage.Engine, error) {
	switch c.Driver {
	case "sqlite", "":
		return sqlite.Open(c.SQLite.sqliteConfig())
	case "postgres":
		return postgres.Open(c.Postgres.postgresConfig())
	default:
		return nil, fmt.Errorf("config: unknown database driver %q", c.Driver)
	}
}

// Dialect converts the configured driver name to storage.Migrate's
// Dialect, defaulting to sqlite like OpenEngine does.
func (c DatabaseConfig) Dialect() storage.Dialect {
	if c.Driver == "postgres" {
		return storage.DialectPostgres
	}
	return storage.DialectSQLite
}

// ServerConfigs converts the file-based server list to pkg/nntp.ServerConfig.
func (c NNTPConfig) ServerConfigs() []nntp.ServerConfig {
	servers := make([]nntp.ServerConfig, len(c.Servers))
	for i, s := range c.Servers {
		servers[i] = nntp.ServerConfig{
			Name:     s.Name,
			Host:     s.Host,
			Port:     s.Port,
			UseTLS:   s.UseTLS,
			Username: s.Username,
			Password: s.Password,
			Timeout:  s.Timeout,
		}
	}
	return servers
}

// JWTConfig converts the file-based AuthConfig to pkg/api/auth.JWTConfig.
func (c AuthConfig) JWTConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:               c.Secret,
		Issuer:               "usenetsyncd",
		AccessTokenDuration:  c.AccessTokenDuration,
		RefreshTokenDuration: c.RefreshTokenDuration,
	}
}

// PoolStrategy converts the configured strategy name to pkg/nntp.Strategy,
// falling back to StrategyFailover for an empty or unrecognized value.
func (c NNTPConfig) PoolStrategy() nntp.Strategy {
	switch nntp.Strategy(c.Strategy) {
	case nntp.StrategyRoundRobin, nntp.StrategyWeighted, nntp.StrategyLeastLatency, nntp.StrategyFailover:
		return nntp.Strategy(c.Strategy)
	default:
		return nntp.StrategyFailover
	}
}
