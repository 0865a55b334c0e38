package storage

import "errors"

// DatabaseBusy is returned when a write could not be completed after
// exhausting the busy/locked retry budget (spec.md §4.2: base 50ms, factor
// 2, jitter +-10%, cap 2s, 10 attempts).
var DatabaseBusy = errors.New("storage: database busy, retry budget exhausted")

// ErrNotFound is returned by fetch_one when no row matches.
var ErrNotFound = errors.New("storage: record not found")

// ErrMigrationFailed wraps a failed schema migration.
var ErrMigrationFailed = errors.New("storage: migration failed")
