package publisher_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kraklabs/usenetsync/pkg/access"
	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/publisher"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/storage/sqlite"
	"github.com/kraklabs/usenetsync/pkg/upload"
)

// acceptAllServer mirrors pkg/upload's test fixture: it accepts POST for
// any article and always confirms it, enough to drive a real
// nntp.Pool.Acquire/Release/Post round trip without a live server.
type acceptAllServer struct{ ln net.Listener }

func startAcceptAllServer(t *testing.T) *acceptAllServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &acceptAllServer{ln: ln}
	go s.serve()
	return s
}

func (s *acceptAllServer) addr() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (s *acceptAllServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *acceptAllServer) handle(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	fmt.Fprintf(w, "200 NNTP Service Ready\r\n")
	w.Flush()

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")

		if cmd == "POST" {
			fmt.Fprintf(w, "340 Send article\r\n")
			w.Flush()
			for {
				bodyLine, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(bodyLine, "\r\n") == "." {
					break
				}
			}
			fmt.Fprintf(w, "240 Article posted\r\n")
			w.Flush()
			continue
		}

		fmt.Fprintf(w, "500 Unknown command\r\n")
		w.Flush()
	}
}

func (s *acceptAllServer) close() { s.ln.Close() }

func openTestEngine(t *testing.T) storage.Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := sqlite.Open(sqlite.Config{Path: dir + "/test.db"})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	if err := storage.Migrate(engine, storage.DialectSQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func seedFullyPostedFolder(t *testing.T, engine storage.Engine, folderID, fileID string) {
	t.Helper()
	ctx := context.Background()

	folder := &storage.Folder{
		ID:             folderID,
		LocalPath:      "/tmp/x",
		OwnerUserID:    "owner-1",
		PublicKey:      []byte("pub"),
		EncryptedKey:   []byte("enc"),
		KeyNonce:       make([]byte, crypto.NonceSize),
		CurrentVersion: 1,
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
		Version:    1,
		FileCount:  1,
		MerkleRoot: "deadbeef",
		CreatedAt:  time.Now(),
	}
	if err := engine.Insert(ctx, fv); err != nil {
		t.Fatalf("insert folder version: %v", err)
	}

	file := &storage.File{
		ID:            fileID,
		FolderID:      folderID,
		RelativePath:  "a/b.txt",
		Size:          10,
		ContentHash:   "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		Version:       1,
		TotalSegments: 1,
		EncryptionKey: make([]byte, crypto.KeySize),
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
		OffsetEnd:       10,
		ContentHash:     "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		InternalSubject: "internal",
		Nonce:           make([]byte, crypto.NonceSize),
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := engine.Insert(ctx, seg); err != nil {
		t.Fatalf("insert segment: %v", err)
	}

	msg := &storage.Message{
		ID:            seg.ID + "-msg",
		SegmentID:     seg.ID,
		MessageID:     "<already-posted@ngPost.com>",
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

func newTestPublisher(t *testing.T, engine storage.Engine) *publisher.Publisher {
	t.Helper()
	server := startAcceptAllServer(t)
	t.Cleanup(server.close)
	host, port := server.addr()

	nntpPool := nntp.NewPool([]nntp.ServerConfig{{Name: "test", Host: host, Port: port, Timeout: 2 * time.Second}}, nntp.StrategyFailover)
	t.Cleanup(func() { nntpPool.Close() })
	retrier := retry.NewRunner(1000, time.Minute)

	return publisher.New(publisher.Config{Newsgroup: "alt.binaries.test"}, engine, nntpPool, retrier)
}

func TestCreateSharePublicModeRoundTrip(t *testing.T) {
	engine := openTestEngine(t)
	seedFullyPostedFolder(t, engine, "folder-1", "file-1")
	pub := newTestPublisher(t, engine)

	ctx := context.Background()
	share, err := pub.CreateShare(ctx, publisher.CreateShareRequest{
		FolderID:    "folder-1",
		OwnerUserID: "owner-1",
		Mode:        access.ModePublic,
		ExpiryDays:  30,
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	if len(share.ID) != 24 {
		t.Fatalf("expected a 24-character share id, got %q", share.ID)
	}
	if share.IndexMessageID == "" {
		t.Fatal("expected an index message id to be recorded")
	}
	if share.ExpiresAt == nil {
		t.Fatal("expected an expiry timestamp")
	}

	var stored []storage.Publication
	if err := engine.FetchAll(ctx, &stored, "SELECT * FROM publications WHERE id = ?", share.ID); err != nil {
		t.Fatalf("fetch publication: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected the publication to be recorded, got %d rows", len(stored))
	}
}

func TestCreateShareProtectedModeRequiresPassword(t *testing.T) {
	engine := openTestEngine(t)
	seedFullyPostedFolder(t, engine, "folder-1", "file-1")
	pub := newTestPublisher(t, engine)

	_, err := pub.CreateShare(context.Background(), publisher.CreateShareRequest{
		FolderID:    "folder-1",
		OwnerUserID: "owner-1",
		Mode:        access.ModeProtected,
	})
	if err == nil {
		t.Fatal("expected an error when no password is supplied for a protected share")
	}
}

func TestCreateSharePrivateModeRecordsCommitments(t *testing.T) {
	engine := openTestEngine(t)
	seedFullyPostedFolder(t, engine, "folder-1", "file-1")
	pub := newTestPublisher(t, engine)

	recipientKey, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair: %v", err)
	}

	share, err := pub.CreateShare(context.Background(), publisher.CreateShareRequest{
		FolderID:    "folder-1",
		OwnerUserID: "owner-1",
		Mode:        access.ModePrivate,
		Recipients:  []publisher.Recipient{{UserID: "user-u2", PublicKey: recipientKey.PublicKey}},
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	var commitments []storage.UserCommitment
	if err := engine.FetchAll(context.Background(), &commitments, "SELECT * FROM user_commitments WHERE publication_id = ?", share.ID); err != nil {
		t.Fatalf("fetch commitments: %v", err)
	}
	if len(commitments) != 1 {
		t.Fatalf("expected 1 commitment, got %d", len(commitments))
	}
	if commitments[0].UserID != "user-u2" {
		t.Fatalf("expected commitment for user-u2, got %s", commitments[0].UserID)
	}
}

func TestCreateShareWaitsOnBarrierBeforePostingIndex(t *testing.T) {
	engine := openTestEngine(t)
	ctx := context.Background()

	folderID, fileID := "folder-2", "file-2"
	folder := &storage.Folder{
		ID: folderID, LocalPath: "/tmp/x", OwnerUserID: "owner-1",
		PublicKey: []byte("pub"), EncryptedKey: []byte("enc"), KeyNonce: make([]byte, crypto.NonceSize),
		CurrentVersion: 1, AccessMode: "public", Status: "active", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := engine.Insert(ctx, folder); err != nil {
		t.Fatalf("insert folder: %v", err)
	}
	fv := &storage.FolderVersion{ID: folderID + "-v1", FolderID: folderID, Version: 1, FileCount: 1, MerkleRoot: "root", CreatedAt: time.Now()}
	if err := engine.Insert(ctx, fv); err != nil {
		t.Fatalf("insert folder version: %v", err)
	}
	file := &storage.File{
		ID: fileID, FolderID: folderID, RelativePath: "a.txt", Size: 10,
		ContentHash: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		Version: 1, TotalSegments: 1, EncryptionKey: make([]byte, crypto.KeySize),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := engine.Insert(ctx, file); err != nil {
		t.Fatalf("insert file: %v", err)
	}
	seg := &storage.Segment{
		ID: fileID + "-seg-0", FileID: fileID, SegmentIndex: 0, OffsetEnd: 10,
		ContentHash: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		InternalSubject: "internal", Nonce: make([]byte, crypto.NonceSize),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := engine.Insert(ctx, seg); err != nil {
		t.Fatalf("insert segment: %v", err)
	}
	// No Message row yet: CreateShare must block until one appears.

	pub := newTestPublisher(t, engine)
	pub.Barrier() // exercised indirectly below via SegmentPosted

	resultCh := make(chan error, 1)
	go func() {
		_, err := pub.CreateShare(ctx, publisher.CreateShareRequest{
			FolderID: folderID, OwnerUserID: "owner-1", Mode: access.ModePublic,
		})
		resultCh <- err
	}()

	// Give CreateShare time to register the barrier before the segment
	// "completes" out from under it.
	time.Sleep(100 * time.Millisecond)

	msg := &storage.Message{
		ID: seg.ID + "-msg", SegmentID: seg.ID, MessageID: "<late@ngPost.com>",
		UsenetSubject: "t", Newsgroup: "alt.binaries.test", Server: "test", Size: 10, PostedAt: time.Now(),
	}
	if err := engine.Insert(ctx, msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	pub.Barrier().SegmentPosted(seg.ID)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("CreateShare: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CreateShare did not unblock after the barrier segment posted")
	}
}

func TestRevokeExtendAndRecordAccess(t *testing.T) {
	engine := openTestEngine(t)
	seedFullyPostedFolder(t, engine, "folder-1", "file-1")
	pub := newTestPublisher(t, engine)
	ctx := context.Background()

	share, err := pub.CreateShare(ctx, publisher.CreateShareRequest{
		FolderID: "folder-1", OwnerUserID: "owner-1", Mode: access.ModePublic, ExpiryDays: 1,
	})
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	if err := pub.RecordAccess(ctx, share.ID, "user-1"); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	var rows []storage.Publication
	if err := engine.FetchAll(ctx, &rows, "SELECT * FROM publications WHERE id = ?", share.ID); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rows[0].AccessCount != 1 || rows[0].LastAccessedByUser != "user-1" {
		t.Fatalf("unexpected row after RecordAccess: %+v", rows[0])
	}

	if err := pub.ExtendShare(ctx, share.ID, 30); err != nil {
		t.Fatalf("ExtendShare: %v", err)
	}
	if err := engine.FetchAll(ctx, &rows, "SELECT * FROM publications WHERE id = ?", share.ID); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if rows[0].ExpiresAt == nil || !rows[0].ExpiresAt.After(*share.ExpiresAt) {
		t.Fatalf("expected ExtendShare to push expiry out, got %v (was %v)", rows[0].ExpiresAt, share.ExpiresAt)
	}

	if err := pub.RevokeShare(ctx, share.ID); err != nil {
		t.Fatalf("RevokeShare: %v", err)
	}
	if err := engine.FetchAll(ctx, &rows, "SELECT * FROM publications WHERE id = ?", share.ID); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rows[0].Revoked || rows[0].Status != "revoked" {
		t.Fatalf("expected revoked state, got %+v", rows[0])
	}
}
