package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kraklabs/usenetsync/pkg/storage/migrations"
)

// Dialect names a migration driver for Migrate. It matches the backend an
// Engine was opened against.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"

	migrationsTable = "schema_migrations"
)

// Migrate applies every pending embedded migration to engine using
// golang-migrate, then records a checksum-and-duration audit row per
// migration file in migration_audit so operators can tell which exact SQL
// ran and how long it took, something golang-migrate's own
// schema_migrations table does not track (spec.md §4.2).
func Migrate(engine Engine, dialect Dialect) error {
	sqlDB, err := engine.DB().DB()
	if err != nil {
		return fmt.Errorf("storage: underlying db: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	default:
		return fmt.Errorf("storage: unknown migration dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	defer driver.Close()

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("%w: source driver: %v", ErrMigrationFailed, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(dialect), driver)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	start := time.Now()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	elapsed := time.Since(start)

	return recordAudit(sqlDB, dialect, elapsed)
}

// recordAudit hashes every embedded *.up.sql file and upserts one
// migration_audit row per version. Duration is attributed to the whole
// Up() run rather than measured per-file, since golang-migrate does not
// expose per-step timing through the WithInstance API.
func recordAudit(sqlDB *sql.DB, dialect Dialect, elapsed time.Duration) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("%w: read embedded migrations: %v", ErrMigrationFailed, err)
	}

	type applied struct {
		version  int64
		checksum string
	}
	var files []applied
	for _, entry := range entries {
		name := entry.Name()
		if !isUpMigration(name) {
			continue
		}
		data, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrMigrationFailed, name, err)
		}
		sum := sha256.Sum256(data)
		version, err := strconv.ParseInt(migrationVersion(name), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: version prefix of %s: %v", ErrMigrationFailed, name, err)
		}
		files = append(files, applied{version: version, checksum: hex.EncodeToString(sum[:])})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })

	query := auditUpsertQuery(dialect)
	now := time.Now().UTC()
	for _, f := range files {
		if _, err := sqlDB.Exec(query, f.version, f.checksum, elapsed.Milliseconds(), now); err != nil {
			return fmt.Errorf("%w: audit row for version %d: %v", ErrMigrationFailed, f.version, err)
		}
	}
	return nil
}

// auditUpsertQuery returns the migration_audit upsert statement in the
// placeholder style each backend's database/sql driver expects: pgx wants
// "$1"-style ordinals, the sqlite drivers accept plain "?".
func auditUpsertQuery(dialect Dialect) string {
	const upsert = `ON CONFLICT (version) DO UPDATE SET
		   checksum = excluded.checksum,
		   duration_ms = excluded.duration_ms,
		   applied_at = excluded.applied_at`
	if dialect == DialectPostgres {
		return `INSERT INTO migration_audit (version, checksum, duration_ms, applied_at)
			 VALUES ($1, $2, $3, $4) ` + upsert
	}
	return `INSERT INTO migration_audit (version, checksum, duration_ms, applied_at)
		 VALUES (?, ?, ?, ?) ` + upsert
}

func isUpMigration(name string) bool {
	const suffix = ".up.sql"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}

// migrationVersion extracts the numeric prefix golang-migrate uses as a
// migration's version from its "NNNN_title.up.sql" file name.
func migrationVersion(name string) string {
	i := 0
	for i < len(name) && name[i] >= '0' && name[i] <= '9' {
		i++
	}
	return name[:i]
}
