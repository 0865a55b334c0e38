package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine is the storage contract every component talks to: insert, update,
// upsert, delete, point and bulk fetch, bulk execute, a lazy streaming
// fetch, and scoped transactions (spec.md §4.2). Both the SQLite and
// PostgreSQL backends implement it identically; callers never branch on
// backend.
type Engine interface {
	Insert(ctx context.Context, record any) error
	Update(ctx context.Context, record any) error
	Upsert(ctx context.Context, record any, conflictColumns []string) error
	Delete(ctx context.Context, record any) error
	FetchOne(ctx context.Context, dest any, query string, args ...any) error
	FetchAll(ctx context.Context, dest any, query string, args ...any) error
	ExecuteMany(ctx context.Context, query string, argSets [][]any) error
	StreamResults(ctx context.Context, dest any, chunkSize int, query string, args ...any) (RowStream, error)
	Transaction(ctx context.Context, fn func(tx Engine) error) error
	DB() *gorm.DB
	Close() error
}

// RowStream is a lazy, finite, forward-only sequence of rows. It cannot be
// restarted; a caller that needs to re-scan issues a new StreamResults
// call.
type RowStream interface {
	// Next scans the next chunk into dest (a pointer to a slice) and
	// reports whether any rows were scanned. A false return with a nil
	// error means the stream is exhausted.
	Next(dest any) (bool, error)
	Close() error
}

// busyRetryPolicy implements spec.md §4.2's retry contract: base 50ms,
// factor 2, jitter +-10%, cap 2s, 10 attempts.
func busyRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries instead, not wall-clock
	return backoff.WithMaxRetries(b, 10)
}

// withBusyRetry runs fn, retrying on SQLite/Postgres busy-or-locked errors
// under busyRetryPolicy. Any other error is returned immediately without
// retry. After the attempt cap, returns DatabaseBusy wrapping the last
// error.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if isBusyError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(busyRetryPolicy(), ctx))
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if isBusyError(lastErr) {
		return fmt.Errorf("%w: %v", DatabaseBusy, lastErr)
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg,
		"database is locked",
		"SQLITE_BUSY",
		"too many connections",
		"deadlock detected",
		"could not serialize access",
	)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// jitteredSleep is unused by the backoff-library path above but kept as the
// manual reference implementation of the spec's jitter formula, exercised
// directly by engine_test.go's TestJitteredSleepWithinBounds.
func jitteredSleep(base time.Duration, factor float64, attempt int, cap time.Duration) time.Duration {
	d := time.Duration(float64(base) * pow(factor, attempt))
	if d > cap {
		d = cap
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// gormEngine is the shared implementation backing both the sqlite and
// postgres constructors; only dialector construction differs between them.
type gormEngine struct {
	db *gorm.DB
}

// NewFromDB wraps an already-opened *gorm.DB as an Engine. Used by the
// sqlite and postgres subpackages after they construct their dialector.
func NewFromDB(db *gorm.DB) Engine {
	return &gormEngine{db: db}
}

func (e *gormEngine) DB() *gorm.DB { return e.db }

func (e *gormEngine) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (e *gormEngine) Insert(ctx context.Context, record any) error {
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Create(record).Error
	})
}

func (e *gormEngine) Update(ctx context.Context, record any) error {
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Save(record).Error
	})
}

func (e *gormEngine) Upsert(ctx context.Context, record any, conflictColumns []string) error {
	cols := make([]clause.Column, len(conflictColumns))
	for i, c := range conflictColumns {
		cols[i] = clause.Column{Name: c}
	}
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   cols,
			UpdateAll: true,
		}).Create(record).Error
	})
}

func (e *gormEngine) Delete(ctx context.Context, record any) error {
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Delete(record).Error
	})
}

func (e *gormEngine) FetchOne(ctx context.Context, dest any, query string, args ...any) error {
	err := e.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
	if err != nil {
		return err
	}
	return nil
}

func (e *gormEngine) FetchAll(ctx context.Context, dest any, query string, args ...any) error {
	return e.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

func (e *gormEngine) ExecuteMany(ctx context.Context, query string, argSets [][]any) error {
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, args := range argSets {
				if err := tx.Exec(query, args...).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (e *gormEngine) Transaction(ctx context.Context, fn func(tx Engine) error) error {
	return withBusyRetry(ctx, func() error {
		return e.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(&gormEngine{db: gtx})
		})
	})
}

// StreamResults returns a lazy, restartable-only-via-new-call row stream.
// dest must be a pointer to a slice; each Next call grows it with up to
// chunkSize freshly-scanned elements and reports whether any row was read.
func (e *gormEngine) StreamResults(ctx context.Context, dest any, chunkSize int, query string, args ...any) (RowStream, error) {
	rows, err := e.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &gormRowStream{db: e.db, rows: rows, chunkSize: chunkSize}, nil
}

type gormRowStream struct {
	db        *gorm.DB
	rows      *sql.Rows
	chunkSize int
}

// Next scans up to chunkSize rows into the slice pointed to by dest,
// resetting it to empty first. Returns false, nil once the underlying
// cursor is exhausted.
func (s *gormRowStream) Next(dest any) (bool, error) {
	destPtr := reflect.ValueOf(dest)
	if destPtr.Kind() != reflect.Ptr || destPtr.Elem().Kind() != reflect.Slice {
		return false, fmt.Errorf("storage: StreamResults dest must be a pointer to a slice")
	}
	sliceVal := destPtr.Elem()
	elemType := sliceVal.Type().Elem()
	sliceVal.Set(reflect.MakeSlice(sliceVal.Type(), 0, s.chunkSize))

	scanned := 0
	for scanned < s.chunkSize {
		if !s.rows.Next() {
			break
		}
		elemPtr := reflect.New(elemType)
		if err := s.db.ScanRows(s.rows, elemPtr.Interface()); err != nil {
			return false, err
		}
		sliceVal.Set(reflect.Append(sliceVal, elemPtr.Elem()))
		scanned++
	}
	if scanned == 0 {
		return false, s.rows.Err()
	}
	return true, nil
}

func (s *gormRowStream) Close() error {
	return s.rows.Close()
}
