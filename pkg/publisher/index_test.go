package publisher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/usenetsync/pkg/crypto"
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
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func seedFolder(t *testing.T, engine storage.Engine, folderID string, version int) {
	t.Helper()
	ctx := context.Background()
	folder := &storage.Folder{
		ID:             folderID,
		LocalPath:      "/tmp/x",
		OwnerUserID:    "owner-1",
		PublicKey:      []byte("pub"),
		EncryptedKey:   []byte("enc"),
		KeyNonce:       make([]byte, crypto.NonceSize),
		CurrentVersion: version,
		AccessMode:     "public",
		Status:         "active",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := engine.Insert(ctx, folder); err != nil {
		t.Fatalf("insert folder: %v", err)
	}
	fv := &storage.FolderVersion{
		ID:         folderID + "-v1",
		FolderID:   folderID,
		Version:    version,
		FileCount:  1,
		MerkleRoot: "deadbeef",
		CreatedAt:  time.Now(),
	}
	if err := engine.Insert(ctx, fv); err != nil {
		t.Fatalf("insert folder version: %v", err)
	}
}

func seedFileWithSegments(t *testing.T, engine storage.Engine, folderID, fileID string, version int, withMessage bool) {
	t.Helper()
	ctx := context.Background()
	key := make([]byte, crypto.KeySize)
	file := &storage.File{
		ID:            fileID,
		FolderID:      folderID,
		RelativePath:  "a/b.txt",
		Size:          100,
		ContentHash:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		Version:       version,
		TotalSegments: 1,
		EncryptionKey: key,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := engine.Insert(ctx, file); err != nil {
		t.Fatalf("insert file: %v", err)
	}

	seg := &storage.Segment{
		ID:              fileID + "-seg-0",
		FileID:          fileID,
		SegmentIndex:    0,
		OffsetEnd:       100,
		ContentHash:     "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		InternalSubject: "internal",
		Nonce:           make([]byte, crypto.NonceSize),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := engine.Insert(ctx, seg); err != nil {
		t.Fatalf("insert segment: %v", err)
	}

	if withMessage {
		msg := &storage.Message{
			ID:            seg.ID + "-msg",
			SegmentID:     seg.ID,
			MessageID:     "<msg-1@ngPost.com>",
			UsenetSubject: "test",
			Newsgroup:     "alt.binaries.test",
			Server:        "test",
			Size:          1000,
			PostedAt:      time.Now(),
		}
		if err := engine.Insert(ctx, msg); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
}

func TestBuildIndexIncludesPostedMessageID(t *testing.T) {
	engine := openTestEngine(t)
	seedFolder(t, engine, "folder-1", 1)
	seedFileWithSegments(t, engine, "folder-1", "file-1", 1, true)

	payload, err := BuildIndex(context.Background(), engine, "folder-1", 1)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if len(payload.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(payload.Files))
	}
	if len(payload.Files[0].Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(payload.Files[0].Segments))
	}
	if payload.Files[0].Segments[0].MessageID != "<msg-1@ngPost.com>" {
		t.Fatalf("expected the posted message id, got %q", payload.Files[0].Segments[0].MessageID)
	}
	if payload.MerkleRoot != "deadbeef" {
		t.Fatalf("expected folder version's merkle root, got %q", payload.MerkleRoot)
	}
}

func TestUnpostedSegmentIDsFindsMissingMessage(t *testing.T) {
	engine := openTestEngine(t)
	seedFolder(t, engine, "folder-1", 1)
	seedFileWithSegments(t, engine, "folder-1", "file-1", 1, false)

	ctx := context.Background()
	payload, err := BuildIndex(ctx, engine, "folder-1", 1)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	ids, err := UnpostedSegmentIDs(ctx, engine, payload)
	if err != nil {
		t.Fatalf("UnpostedSegmentIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "file-1-seg-0" {
		t.Fatalf("expected [file-1-seg-0], got %v", ids)
	}
}

func TestUnpostedSegmentIDsEmptyWhenAllPosted(t *testing.T) {
	engine := openTestEngine(t)
	seedFolder(t, engine, "folder-1", 1)
	seedFileWithSegments(t, engine, "folder-1", "file-1", 1, true)

	ctx := context.Background()
	payload, err := BuildIndex(ctx, engine, "folder-1", 1)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	ids, err := UnpostedSegmentIDs(ctx, engine, payload)
	if err != nil {
		t.Fatalf("UnpostedSegmentIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no unposted segments, got %v", ids)
	}
}

func TestEncryptDecryptIndexRoundTrip(t *testing.T) {
	engine := openTestEngine(t)
	seedFolder(t, engine, "folder-1", 1)
	seedFileWithSegments(t, engine, "folder-1", "file-1", 1, true)

	ctx := context.Background()
	payload, err := BuildIndex(ctx, engine, "folder-1", 1)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	var key crypto.AEADKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	aad := []byte("share-id-1")

	ciphertext, nonce, err := EncryptIndex(payload, key, aad)
	if err != nil {
		t.Fatalf("EncryptIndex: %v", err)
	}

	got, err := DecryptIndex(ciphertext, nonce, key, aad)
	if err != nil {
		t.Fatalf("DecryptIndex: %v", err)
	}
	if got.FolderID != payload.FolderID || len(got.Files) != len(payload.Files) {
		t.Fatalf("round-tripped payload mismatch: got %+v, want %+v", got, payload)
	}
	if got.Files[0].Segments[0].MessageID != "<msg-1@ngPost.com>" {
		t.Fatalf("expected message id to survive round trip, got %q", got.Files[0].Segments[0].MessageID)
	}
}

func TestDecryptIndexFailsWithWrongAAD(t *testing.T) {
	payload := IndexPayload{FolderID: "f"}
	var key crypto.AEADKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	ciphertext, nonce, err := EncryptIndex(payload, key, []byte("share-a"))
	if err != nil {
		t.Fatalf("EncryptIndex: %v", err)
	}
	if _, err := DecryptIndex(ciphertext, nonce, key, []byte("share-b")); err == nil {
		t.Fatal("expected decrypt to fail with mismatched AAD")
	}
}

func TestMaterializeIndexPopulatesLocalRows(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	payload := IndexPayload{
		FolderID: "folder-remote",
		Version:  1,
		Files: []IndexFile{
			{
				ID:            "file-remote-1",
				RelativePath:  "x.txt",
				Size:          10,
				ContentHash:   "hash",
				TotalSegments: 1,
				EncryptionKey: make([]byte, crypto.KeySize),
				Segments: []IndexSegment{
					{Index: 0, RedundancyIndex: 0, MessageID: "<remote@ngPost.com>", Nonce: make([]byte, crypto.NonceSize), ContentHash: "hash", OffsetStart: 0, OffsetEnd: 10},
				},
			},
		},
	}

	if err := MaterializeIndex(ctx, engine, payload, "owner-1"); err != nil {
		t.Fatalf("MaterializeIndex: %v", err)
	}

	var files []storage.File
	if err := engine.FetchAll(ctx, &files, "SELECT * FROM files WHERE id = ?", "file-remote-1"); err != nil {
		t.Fatalf("fetch file: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected materialized file row, got %d", len(files))
	}

	var segments []storage.Segment
	if err := engine.FetchAll(ctx, &segments, "SELECT * FROM segments WHERE file_id = ?", "file-remote-1"); err != nil {
		t.Fatalf("fetch segments: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 materialized segment, got %d", len(segments))
	}

	var messages []storage.Message
	if err := engine.FetchAll(ctx, &messages, "SELECT * FROM messages WHERE segment_id = ?", segments[0].ID); err != nil {
		t.Fatalf("fetch message: %v", err)
	}
	if len(messages) != 1 || messages[0].MessageID != "<remote@ngPost.com>" {
		t.Fatalf("expected materialized message row, got %v", messages)
	}
}
