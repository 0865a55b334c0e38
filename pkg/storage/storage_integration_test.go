package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/storage/sqlite"
)

func openTestEngine(t *testing.T) storage.Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := sqlite.Open(sqlite.Config{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	if err := storage.Migrate(engine, storage.DialectSQLite); err != nil {
		t.Fatalf("storage.Migrate: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestMigrateIsIdempotent(t *testing.T) {
	engine := openTestEngine(t)
	if err := storage.Migrate(engine, storage.DialectSQLite); err != nil {
		t.Fatalf("second Migrate call should be a no-op, got: %v", err)
	}
}

func TestInsertAndFetchOne(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	user := &storage.User{
		ID:           "user-1",
		Username:     "alice",
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := engine.Insert(ctx, user); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var got storage.User
	if err := engine.FetchOne(ctx, &got, "SELECT * FROM users WHERE id = ?", "user-1"); err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("got username %q, want alice", got.Username)
	}
}

func TestUpsertUpdatesOnConflict(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	user := &storage.User{ID: "user-2", Username: "bob", PasswordHash: "h1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := engine.Insert(ctx, user); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	user.PasswordHash = "h2"
	if err := engine.Upsert(ctx, user, []string{"id"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var got storage.User
	if err := engine.FetchOne(ctx, &got, "SELECT * FROM users WHERE id = ?", "user-2"); err != nil {
		t.Fatalf("FetchOne: %v", err)
	}
	if got.PasswordHash != "h2" {
		t.Fatalf("got password hash %q, want h2 after upsert", got.PasswordHash)
	}
}

func TestStreamResultsPaginatesInChunks(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		u := &storage.User{
			ID:           "user-" + string(rune('a'+i)),
			Username:     "user" + string(rune('a'+i)),
			PasswordHash: "h",
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
		if err := engine.Insert(ctx, u); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	stream, err := engine.StreamResults(ctx, &[]storage.User{}, 3, "SELECT * FROM users ORDER BY id")
	if err != nil {
		t.Fatalf("StreamResults: %v", err)
	}
	defer stream.Close()

	total := 0
	chunkSizes := []int{}
	for {
		var chunk []storage.User
		ok, err := stream.Next(&chunk)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		chunkSizes = append(chunkSizes, len(chunk))
		total += len(chunk)
	}

	if total != 7 {
		t.Fatalf("streamed %d rows, want 7", total)
	}
	if len(chunkSizes) != 3 {
		t.Fatalf("expected 3 chunks of sizes [3,3,1], got %v", chunkSizes)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	err := engine.Transaction(ctx, func(tx storage.Engine) error {
		u := &storage.User{ID: "user-tx", Username: "txuser", PasswordHash: "h", CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := tx.Insert(ctx, u); err != nil {
			return err
		}
		return storage.ErrNotFound // force rollback
	})
	if err == nil {
		t.Fatal("expected Transaction to surface the callback error")
	}

	var got storage.User
	fetchErr := engine.FetchOne(ctx, &got, "SELECT * FROM users WHERE id = ?", "user-tx")
	if fetchErr == nil && got.ID != "" {
		t.Fatal("expected rolled-back insert to not be visible")
	}
}

func TestExecuteManyRunsAllStatements(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	argSets := [][]any{
		{"user-x", "userx", "h", time.Now(), time.Now()},
		{"user-y", "usery", "h", time.Now(), time.Now()},
	}
	err := engine.ExecuteMany(ctx,
		"INSERT INTO users (id, username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		argSets,
	)
	if err != nil {
		t.Fatalf("ExecuteMany: %v", err)
	}

	var users []storage.User
	if err := engine.FetchAll(ctx, &users, "SELECT * FROM users WHERE id IN (?, ?)", "user-x", "user-y"); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
}
