package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation over cfg. The teacher's own config
// package declares `validate:"..."` tags throughout (required fields,
// oneof enumerations, numeric ranges) without ever wiring a validator —
// no validation.go exists in the pack for it, just a validation_test.go
// expecting one. This fills that gap using the same
// github.com/go-playground/validator/v10 the tags are already written
// for, plus a handful of cross-field checks the tag syntax can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("config: database.postgres.host is required when driver is postgres")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("config: database.postgres.database is required when driver is postgres")
		}
	}

	seen := make(map[string]struct{}, len(cfg.NNTP.Servers))
	for _, srv := range cfg.NNTP.Servers {
		if _, dup := seen[srv.Name]; dup {
			return fmt.Errorf("config: duplicate nntp server name %q", srv.Name)
		}
		seen[srv.Name] = struct{}{}
	}

	return nil
}
