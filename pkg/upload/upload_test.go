package upload_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/storage/sqlite"
	"github.com/kraklabs/usenetsync/pkg/upload"
)

// acceptAllServer is a minimal in-process NNTP responder that accepts
// multiple connections (unlike a single-Accept fake), good enough to drive
// an upload.Pool through a real nntp.Pool.Acquire/Release cycle.
type acceptAllServer struct {
	ln net.Listener
}

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

func TestPoolPostsQueuedSegmentEndToEnd(t *testing.T) {
	server := startAcceptAllServer(t)
	defer server.close()
	host, port := server.addr()

	dir := t.TempDir()
	engine, err := sqlite.Open(sqlite.Config{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	defer engine.Close()
	if err := storage.Migrate(engine, storage.DialectSQLite); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce [24]byte
	copy(nonce[:], []byte("0123456789abcdef01234567"))

	ctx := context.Background()
	file := &storage.File{
		ID:            "file-1",
		FolderID:      "f",
		RelativePath:  "a/b.txt",
		ContentHash:   "deadbeef",
		Version:       1,
		TotalSegments: 1,
		EncryptionKey: key[:],
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := engine.Insert(ctx, file); err != nil {
		t.Fatalf("insert file: %v", err)
	}

	segment := &storage.Segment{
		ID:              "segment-1",
		FileID:          file.ID,
		SegmentIndex:    0,
		OffsetEnd:       10,
		ContentHash:     "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		InternalSubject: "internal",
		Nonce:           nonce[:],
		State:           "new",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := engine.Insert(ctx, segment); err != nil {
		t.Fatalf("insert segment: %v", err)
	}

	staged := []byte("hello world")
	if err := os.WriteFile(filepath.Join(dir, segment.ID+".seg"), staged, 0o600); err != nil {
		t.Fatalf("write staged segment: %v", err)
	}

	queueEntry := &storage.UploadQueueEntry{
		ID:        "entry-1",
		SegmentID: segment.ID,
		State:     "pending",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := engine.Insert(ctx, queueEntry); err != nil {
		t.Fatalf("insert queue entry: %v", err)
	}

	nntpPool := nntp.NewPool([]nntp.ServerConfig{{Name: "test", Host: host, Port: port, Timeout: 2 * time.Second}}, nntp.StrategyFailover)
	defer nntpPool.Close()
	retrier := retry.NewRunner(1000, time.Minute)

	pool := upload.New(upload.Config{
		Workers:    1,
		Newsgroup:  "alt.binaries.test",
		StagingDir: dir,
	}, engine, nntpPool, retrier)

	pool.Start(ctx)
	defer pool.Stop(2 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		completed, failed := pool.Stats()
		if completed+failed > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	completed, failed := pool.Stats()
	if failed != 0 {
		t.Fatalf("expected no failures, got %d", failed)
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed upload, got %d", completed)
	}

	var messages []storage.Message
	if err := engine.FetchAll(ctx, &messages, "SELECT * FROM messages WHERE segment_id = ?", segment.ID); err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected exactly one recorded message, got %d", len(messages))
	}
}
