// Package download drives the inbound half of the engine: a durable queue
// of per-segment fetch tasks worked by a bounded pool of goroutines, each
// running ARTICLE-fetch, yEnc-unwrap, decrypt, and decompress, with
// automatic fallback across a segment's redundancy copies when the
// server reports an article missing (spec.md §4.3, §4.4, §4.7).
//
// Structurally this mirrors pkg/upload's worker pool (grounded on the same
// teacher queue, pkg/payload/transfer.TransferQueue), generalized from
// TransferManager.ReadBlocks's in-memory parallel fetch-and-assemble to a
// durable, restart-safe download_queue_entries backlog.
package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// DefaultWorkers matches the teacher's DefaultParallelDownloads doubled:
// fetch fan-out has no local-disk-write bottleneck the way upload's staging
// read does, so the spec sizes it for twice the concurrency (spec.md §4.7).
const DefaultWorkers = 8

const pollInterval = 500 * time.Millisecond

// Config controls a Pool's concurrency and where fetched segments land.
type Config struct {
	Workers int

	// DestDir is the root a fetched, decrypted, decompressed segment is
	// written under, one file per (file ID, segment index):
	// DestDir/<file_id>/<segment_index>.seg. pkg/reassemble reads these
	// back in order to reconstruct the original file.
	DestDir string

	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Pool is the download worker pool.
type Pool struct {
	cfg     Config
	engine  storage.Engine
	nntp    *nntp.Pool
	retrier *retry.Runner

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	mu        sync.Mutex
	completed int
	failed    int
}

// New builds a Pool sharing nntpPool and retrier with the rest of the
// engine's NNTP traffic.
func New(cfg Config, engine storage.Engine, nntpPool *nntp.Pool, retrier *retry.Runner) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:     cfg,
		engine:  engine,
		nntp:    nntpPool,
		retrier: retrier,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker goroutines. Calling it more than once is a
// no-op.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})
}

// Stop signals every worker to exit and waits for them to drain their
// current claim, up to timeout.
func (p *Pool) Stop(timeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("download pool stop timed out", logger.Pending(p.Pending()))
	}
}

// Stats returns cumulative completed/failed counts since the pool started.
func (p *Pool) Stats() (completed, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.failed
}

// Pending returns the number of queue rows still in the pending state.
func (p *Pool) Pending() int {
	n, err := countPending(context.Background(), p.engine)
	if err != nil {
		return -1
	}
	return n
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		entry, ok, err := claimNext(ctx, p.engine)
		if err != nil {
			logger.Error("download worker: claim failed", logger.Worker(id), logger.Err(err))
			p.sleep(ctx)
			continue
		}
		if !ok {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, entry)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-p.stopCh:
	case <-ctx.Done():
	case <-time.After(pollInterval):
	}
}

func (p *Pool) process(ctx context.Context, entry storage.DownloadQueueEntry) {
	err := p.fetchEntry(ctx, entry)

	p.mu.Lock()
	if err == nil {
		p.completed++
	} else {
		p.failed++
	}
	p.mu.Unlock()

	if err == nil {
		_ = markDone(ctx, p.engine, entry.ID)
		return
	}

	logger.Error("download entry failed", logger.EntryID(entry.ID), logger.Attempt(entry.Attempts+1), logger.Err(err))
	if entry.Attempts+1 >= p.cfg.MaxAttempts {
		_ = markFailed(ctx, p.engine, entry.ID, err)
		return
	}
	_ = requeue(ctx, p.engine, entry.ID, err)
}

// fetchEntry gathers every Segment row sharing entry's (file ID, segment
// index), ordered by redundancy index, and tries each one's latest
// message in turn: a 430 (no such article) on the primary copy falls
// through to the next redundancy copy rather than failing outright
// (spec.md §4.4's redundancy fallback).
func (p *Pool) fetchEntry(ctx context.Context, entry storage.DownloadQueueEntry) error {
	var files []storage.File
	if err := p.engine.FetchAll(ctx, &files, "SELECT * FROM files WHERE id = ?", entry.FileID); err != nil {
		return fmt.Errorf("download: fetch file %s: %w", entry.FileID, err)
	}
	if len(files) != 1 {
		return fmt.Errorf("download: file %s not found", entry.FileID)
	}
	file := files[0]

	candidates, err := segmentCandidates(ctx, p.engine, entry.FileID, entry.SegmentIndex)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("download: no segment rows for file %s index %d", entry.FileID, entry.SegmentIndex)
	}

	var lastErr error
	for _, segment := range candidates {
		plaintext, err := p.fetchSegment(ctx, segment, file)
		if err == nil {
			return writeStagedSegment(p.cfg.DestDir, entry.FileID, entry.SegmentIndex, plaintext)
		}
		lastErr = err
		if err != nntp.ErrNotFound {
			// A non-missing-article error (auth failure, malformed body,
			// decrypt failure) is not something another redundancy copy can
			// fix; stop trying further copies for this attempt.
			break
		}
	}
	return fmt.Errorf("download: all redundancy copies failed for file %s index %d: %w", entry.FileID, entry.SegmentIndex, lastErr)
}

func (p *Pool) fetchSegment(ctx context.Context, segment storage.Segment, file storage.File) ([]byte, error) {
	var messages []storage.Message
	if err := p.engine.FetchAll(ctx, &messages,
		"SELECT * FROM messages WHERE segment_id = ? ORDER BY posted_at DESC LIMIT 1", segment.ID); err != nil {
		return nil, fmt.Errorf("download: fetch message for segment %s: %w", segment.ID, err)
	}
	if len(messages) != 1 {
		return nil, nntp.ErrNotFound
	}
	message := messages[0]

	var body []byte
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		conn, health, acquireErr := p.nntp.Acquire(ctx, 30*time.Second)
		if acquireErr != nil {
			return acquireErr
		}
		start := time.Now()
		data, fetchErr := conn.Article(message.MessageID)
		p.nntp.Release(conn, health, fetchErr == nil, time.Since(start))
		if fetchErr != nil {
			if fetchErr == nntp.ErrNotFound {
				return fetchErr
			}
			return nntp.AsCodedError(fetchErr)
		}
		body = data
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	return decodeSegmentArticle(body, segment, file)
}
