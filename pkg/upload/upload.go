// Package upload drives the outbound half of the engine: a durable,
// priority-ordered queue of segment and index-article postings, worked by a
// bounded pool of goroutines that each run the same five-step pipeline
// (load, compress, encrypt, yEnc-wrap, post) under a shared bandwidth
// budget and NNTP retry policy (spec.md §4.3, §4.6, §4.7).
//
// It is grounded on the teacher's pkg/payload/transfer.TransferQueue: a
// buffered channel of work handed to a fixed worker pool, with Start/Stop
// lifecycle and live pending/completed/failed counters. Durability is the
// one real difference — this queue's backlog lives in
// storage.UploadQueueEntry rows, claimed by an atomic conditional UPDATE,
// rather than only in the in-memory channel, so a restart resumes exactly
// where it left off instead of losing in-flight work.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// DefaultWorkers matches the teacher's DefaultParallelUploads.
const DefaultWorkers = 4

// pollInterval is how often an idle worker re-checks the queue when the
// last claim attempt found nothing pending.
const pollInterval = 500 * time.Millisecond

// Config controls a Pool's concurrency, bandwidth ceiling, and the NNTP
// newsgroup postings target.
type Config struct {
	Workers int

	// BandwidthBytesPerSec caps outbound posting throughput; zero means
	// unlimited. Burst capacity is 1.5x the steady-state rate, matching the
	// spec's token-bucket sizing.
	BandwidthBytesPerSec float64

	Newsgroup string

	// StagingDir holds one file per segment (named by segment ID)
	// containing that segment's plaintext bytes, written by the ingest
	// stage that enqueues the corresponding storage.UploadQueueEntry. This
	// is the hand-off boundary between ingestion and posting.
	StagingDir string

	MaxAttempts int
}

// SegmentNotifier is told about every segment a Pool finishes posting.
// pkg/publisher's share barrier implements this so it can release an
// index-article post the moment its last referenced segment lands,
// instead of polling storage.Message rows on a timer.
type SegmentNotifier interface {
	SegmentPosted(segmentID string)
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Pool is the upload worker pool: claims storage.UploadQueueEntry rows and
// posts them, respecting a shared bandwidth limiter and NNTP retry policy.
type Pool struct {
	cfg     Config
	engine  storage.Engine
	nntp    *nntp.Pool
	retrier *retry.Runner
	limiter *rate.Limiter

	notifier SegmentNotifier

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	mu        sync.Mutex
	completed int
	failed    int
}

// New builds a Pool. nntpPool and retrier are shared with the rest of the
// engine's NNTP traffic so the connection and rate-limit budgets are
// global, not per-subsystem; the bandwidth limiter belongs to this Pool.
func New(cfg Config, engine storage.Engine, nntpPool *nntp.Pool, retrier *retry.Runner) *Pool {
	cfg.applyDefaults()

	var limiter *rate.Limiter
	if cfg.BandwidthBytesPerSec > 0 {
		burst := int(cfg.BandwidthBytesPerSec * 1.5)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthBytesPerSec), burst)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Pool{
		cfg:     cfg,
		engine:  engine,
		nntp:    nntpPool,
		retrier: retrier,
		limiter: limiter,
		stopCh:  make(chan struct{}),
	}
}

// SetNotifier installs n so every future successful post calls
// n.SegmentPosted. It is not safe to call concurrently with Start.
func (p *Pool) SetNotifier(n SegmentNotifier) {
	p.notifier = n
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
		logger.Warn("upload pool stop timed out", logger.Pending(p.Pending()))
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
	ctx := context.Background()
	n, err := countPending(ctx, p.engine)
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
			logger.Error("upload worker: claim failed", logger.Worker(id), logger.Err(err))
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

func (p *Pool) process(ctx context.Context, entry storage.UploadQueueEntry) {
	err := p.postEntry(ctx, entry)

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

	logger.Error("upload entry failed", logger.EntryID(entry.ID), logger.Attempt(entry.Attempts+1), logger.Err(err))
	if entry.Attempts+1 >= p.cfg.MaxAttempts {
		_ = markFailed(ctx, p.engine, entry.ID, err)
		return
	}
	_ = requeue(ctx, p.engine, entry.ID, err)
}

// postEntry runs the five-step pipeline for one queue entry and records
// the resulting storage.Message row.
func (p *Pool) postEntry(ctx context.Context, entry storage.UploadQueueEntry) error {
	if entry.SegmentID == "" {
		return fmt.Errorf("upload: index-article entries are posted by pkg/publisher, not pkg/upload")
	}

	var segments []storage.Segment
	if err := p.engine.FetchAll(ctx, &segments, "SELECT * FROM segments WHERE id = ?", entry.SegmentID); err != nil {
		return fmt.Errorf("upload: fetch segment: %w", err)
	}
	if len(segments) != 1 {
		return fmt.Errorf("upload: segment %s not found", entry.SegmentID)
	}
	segment := segments[0]

	var files []storage.File
	if err := p.engine.FetchAll(ctx, &files, "SELECT * FROM files WHERE id = ?", segment.FileID); err != nil {
		return fmt.Errorf("upload: fetch file: %w", err)
	}
	if len(files) != 1 {
		return fmt.Errorf("upload: file %s not found", segment.FileID)
	}
	file := files[0]

	article, messageID, subject, err := buildSegmentArticle(p.cfg.StagingDir, p.cfg.Newsgroup, segment, file)
	if err != nil {
		return err
	}

	if err := p.limiter.WaitN(ctx, len(article)); err != nil {
		return fmt.Errorf("upload: bandwidth wait: %w", err)
	}

	if err := p.postArticle(ctx, article); err != nil {
		return err
	}

	msg := &storage.Message{
		ID:            entry.ID + "-msg",
		SegmentID:     segment.ID,
		MessageID:     messageID,
		UsenetSubject: subject,
		Newsgroup:     p.cfg.Newsgroup,
		Size:          int64(len(article)),
		PostedAt:      time.Now(),
	}
	if err := p.engine.Insert(ctx, msg); err != nil {
		return fmt.Errorf("upload: record message: %w", err)
	}

	if p.notifier != nil {
		p.notifier.SegmentPosted(segment.ID)
	}
	return nil
}

func (p *Pool) postArticle(ctx context.Context, article []byte) error {
	return p.retrier.Do(ctx, func(ctx context.Context) error {
		conn, health, err := p.nntp.Acquire(ctx, 30*time.Second)
		if err != nil {
			return err
		}
		start := time.Now()
		postErr := conn.Post(article)
		p.nntp.Release(conn, health, postErr == nil, time.Since(start))
		if postErr != nil {
			return nntp.AsCodedError(postErr)
		}
		return nil
	}, nil)
}
