// Package publisher implements the share/access-control substrate: publish
// a folder version as a public, protected, or private share, revoke or
// extend it, record access, and expire it automatically once its time is
// up (spec.md §4.1, §4.8, §4.9).
//
// Publishing a share blocks on pkg/publisher's Barrier until every segment
// the share's index references has a storage.Message row, then seals the
// index under a mode-derived session key and posts it as one Usenet
// article, mirroring pkg/upload's own load -> encrypt -> yEnc -> post
// pipeline for the one article type pkg/upload itself refuses to post
// (see upload.Pool.postEntry's index-article guard).
package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/access"
	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/nntp"
	"github.com/kraklabs/usenetsync/pkg/obfuscator"
	"github.com/kraklabs/usenetsync/pkg/retry"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/yenc"
)

const (
	// defaultBarrierWait bounds how long CreateShare waits for a folder's
	// segments to finish posting before giving up; folders are normally
	// fully posted well before a share is requested, so this only matters
	// when a share is created in the same breath as a fresh upload.
	defaultBarrierWait = 10 * time.Minute

	// defaultScanInterval is coarser than pkg/nntp/pool.go's 30s connection
	// monitor: share expiry is day-granularity, so minute-scale staleness
	// in the expired flag is harmless.
	defaultScanInterval = 5 * time.Minute

	argonSaltSize = 16
)

// Config controls a Publisher's posting target and background timings.
type Config struct {
	Newsgroup    string
	BarrierWait  time.Duration
	ScanInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BarrierWait <= 0 {
		c.BarrierWait = defaultBarrierWait
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
}

// Recipient is one private-share authorization: a user identifier and the
// X25519 public key their access commitment is wrapped against.
type Recipient struct {
	UserID    string
	PublicKey [32]byte
}

// CreateShareRequest carries create_share's mode_params alongside the
// folder/owner/mode/expiry arguments spec.md §4.1 names directly.
type CreateShareRequest struct {
	FolderID    string
	OwnerUserID string
	Mode        access.Mode
	ExpiryDays  int

	// Password is required (and only used) for access.ModeProtected.
	Password string

	// Recipients is required (and only used) for access.ModePrivate.
	Recipients []Recipient
}

// Publisher owns the share lifecycle operations and the barrier that gates
// index-article posting on segment completion.
type Publisher struct {
	cfg     Config
	engine  storage.Engine
	nntp    *nntp.Pool
	retrier *retry.Runner
	barrier *Barrier

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
}

// New builds a Publisher. The returned Publisher's Barrier should be
// installed on the engine's upload.Pool via SetNotifier so segment
// completions reach CreateShare without polling.
func New(cfg Config, engine storage.Engine, nntpPool *nntp.Pool, retrier *retry.Runner) *Publisher {
	cfg.applyDefaults()
	return &Publisher{
		cfg:     cfg,
		engine:  engine,
		nntp:    nntpPool,
		retrier: retrier,
		barrier: NewBarrier(),
		stopCh:  make(chan struct{}),
	}
}

// Barrier returns the segment-completion barrier this Publisher waits on.
func (p *Publisher) Barrier() *Barrier { return p.barrier }

// CreateShare atomically generates a share identifier, waits for every
// segment the folder's current version references to finish posting,
// builds and encrypts the index under the mode's session key, posts it as
// one Usenet article, and records the resulting storage.Publication
// (spec.md §4.1's create_share).
func (p *Publisher) CreateShare(ctx context.Context, req CreateShareRequest) (storage.Publication, error) {
	switch req.Mode {
	case access.ModePublic:
	case access.ModeProtected:
		if req.Password == "" {
			return storage.Publication{}, fmt.Errorf("publisher: protected share requires a password")
		}
	case access.ModePrivate:
		if len(req.Recipients) == 0 {
			return storage.Publication{}, fmt.Errorf("publisher: private share requires at least one recipient")
		}
	default:
		return storage.Publication{}, fmt.Errorf("publisher: unknown access mode %q", req.Mode)
	}

	var folders []storage.Folder
	if err := p.engine.FetchAll(ctx, &folders, "SELECT * FROM folders WHERE id = ?", req.FolderID); err != nil {
		return storage.Publication{}, fmt.Errorf("publisher: fetch folder %s: %w", req.FolderID, err)
	}
	if len(folders) != 1 {
		return storage.Publication{}, fmt.Errorf("publisher: folder %s not found", req.FolderID)
	}
	folder := folders[0]

	shareID, err := obfuscator.NewShareID()
	if err != nil {
		return storage.Publication{}, err
	}

	if err := p.waitForSegments(ctx, shareID, folder.ID, folder.CurrentVersion); err != nil {
		return storage.Publication{}, err
	}

	payload, err := BuildIndex(ctx, p.engine, folder.ID, folder.CurrentVersion)
	if err != nil {
		return storage.Publication{}, err
	}

	pub := storage.Publication{
		ID:            shareID,
		FolderID:      folder.ID,
		FolderVersion: folder.CurrentVersion,
		OwnerUserID:   req.OwnerUserID,
		AccessMode:    string(req.Mode),
		Status:        "active",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if req.ExpiryDays > 0 {
		expires := time.Now().AddDate(0, 0, req.ExpiryDays)
		pub.ExpiresAt = &expires
	}

	var sessionKey crypto.AEADKey
	var commitments []storage.UserCommitment

	switch req.Mode {
	case access.ModePublic:
		sessionKey = publicSessionKey(shareID, folder.ID)

	case access.ModeProtected:
		salt, saltErr := crypto.NewSalt(argonSaltSize)
		if saltErr != nil {
			return storage.Publication{}, saltErr
		}
		params := crypto.DefaultArgon2Params()
		sessionKey = crypto.DeriveProtectedKey(req.Password, salt, params)
		pub.ArgonSalt = salt
		pub.ArgonTimeCost = params.Time
		pub.ArgonMemoryKiB = params.MemoryKiB
		pub.ArgonThreads = params.Threads

	case access.ModePrivate:
		raw, saltErr := crypto.NewSalt(crypto.KeySize)
		if saltErr != nil {
			return storage.Publication{}, saltErr
		}
		copy(sessionKey[:], raw)

		for _, recipient := range req.Recipients {
			commitment, cErr := access.CreateCommitment(recipient.UserID, recipient.PublicKey, sessionKey)
			if cErr != nil {
				return storage.Publication{}, fmt.Errorf("publisher: commitment for %s: %w", recipient.UserID, cErr)
			}
			commitment.ID = shareID + "-" + recipient.UserID
			commitment.PublicationID = shareID
			commitment.UserID = recipient.UserID
			commitments = append(commitments, commitment)
		}
	}

	ciphertext, nonce, err := EncryptIndex(payload, sessionKey, []byte(shareID))
	if err != nil {
		return storage.Publication{}, err
	}
	pub.EncryptedIndex = ciphertext
	pub.IndexNonce = nonce

	messageID, err := p.postIndexArticle(ctx, shareID, ciphertext)
	if err != nil {
		return storage.Publication{}, fmt.Errorf("publisher: post index article: %w", err)
	}
	pub.IndexMessageID = messageID

	if err := p.engine.Insert(ctx, &pub); err != nil {
		return storage.Publication{}, fmt.Errorf("publisher: record publication: %w", err)
	}
	for i := range commitments {
		if err := p.engine.Insert(ctx, &commitments[i]); err != nil {
			return storage.Publication{}, fmt.Errorf("publisher: record commitment: %w", err)
		}
	}

	return pub, nil
}

// waitForSegments registers shareID on the barrier for every segment that
// does not yet have a posted message, then blocks until they all do, the
// request's context is canceled, or BarrierWait elapses.
func (p *Publisher) waitForSegments(ctx context.Context, shareID, folderID string, version int) error {
	payload, err := BuildIndex(ctx, p.engine, folderID, version)
	if err != nil {
		return err
	}
	unposted, err := UnpostedSegmentIDs(ctx, p.engine, payload)
	if err != nil {
		return err
	}

	ready := p.barrier.Register(shareID, unposted)
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		p.barrier.Cancel(shareID)
		return ctx.Err()
	case <-time.After(p.cfg.BarrierWait):
		p.barrier.Cancel(shareID)
		return fmt.Errorf("publisher: timed out waiting for %d segment(s) to post", len(unposted))
	}
}

// publicSessionKey derives a public share's session key purely from its
// own publicly-known record fields (share identifier and folder
// identifier), so any holder of the share identifier can recompute it
// without the engine storing the key anywhere: "the session key is
// embedded (HKDF-derived) in the share record" (spec.md §4.1) in the sense
// that it is reconstructible from that record alone.
func publicSessionKey(shareID, folderID string) crypto.AEADKey {
	digest := sha256.Sum256([]byte(shareID))
	var master crypto.AEADKey
	copy(master[:], digest[:])
	key, _ := crypto.DeriveShareKey(master, []byte(folderID), []byte("usenetsync public share index v1"))
	return key
}

// postIndexArticle seals an index article the same way pkg/upload wraps a
// segment article (yEnc over the ciphertext, an obfuscated subject and
// message ID, posted via the shared NNTP pool and retry policy) and
// returns the message ID it was posted under.
func (p *Publisher) postIndexArticle(ctx context.Context, shareID string, ciphertext []byte) (string, error) {
	token, err := obfuscator.RandomUsenetSubjectToken()
	if err != nil {
		return "", err
	}
	subject := fmt.Sprintf("[1/1] %s - index [%s]", token, shareID[:8])

	messageID, err := obfuscator.NewMessageID()
	if err != nil {
		return "", err
	}

	yencBody := yenc.Encode(ciphertext, "index", 1, 1)
	article := buildIndexArticle(p.cfg.Newsgroup, messageID, subject, yencBody)

	err = p.retrier.Do(ctx, func(ctx context.Context) error {
		conn, health, acquireErr := p.nntp.Acquire(ctx, 30*time.Second)
		if acquireErr != nil {
			return acquireErr
		}
		start := time.Now()
		postErr := conn.Post(article)
		p.nntp.Release(conn, health, postErr == nil, time.Since(start))
		if postErr != nil {
			return nntp.AsCodedError(postErr)
		}
		return nil
	}, nil)
	if err != nil {
		return "", err
	}
	return messageID, nil
}

const indexPostFrom = "poster@ngPost.com"

func buildIndexArticle(newsgroup, messageID, subject string, yencBody []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", indexPostFrom)
	fmt.Fprintf(&buf, "Newsgroups: %s\r\n", newsgroup)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	buf.WriteString("\r\n")
	buf.Write(yencBody)
	return buf.Bytes()
}

// RevokeShare flips a share's status to revoked. This is informational
// only: articles already posted to the network cannot be retracted, so a
// revoked share's segments and index remain fetchable by anyone who
// already holds the identifier (spec.md §4.1).
func (p *Publisher) RevokeShare(ctx context.Context, shareID string) error {
	pub, err := p.fetchPublication(ctx, shareID)
	if err != nil {
		return err
	}
	pub.Revoked = true
	pub.Status = "revoked"
	pub.UpdatedAt = time.Now()
	return p.engine.Update(ctx, &pub)
}

// ExtendShare pushes a share's expiry out by additionalDays, measured from
// its current expiry if it has one or from now otherwise.
func (p *Publisher) ExtendShare(ctx context.Context, shareID string, additionalDays int) error {
	pub, err := p.fetchPublication(ctx, shareID)
	if err != nil {
		return err
	}
	base := time.Now()
	if pub.ExpiresAt != nil && pub.ExpiresAt.After(base) {
		base = *pub.ExpiresAt
	}
	expires := base.AddDate(0, 0, additionalDays)
	pub.ExpiresAt = &expires
	if pub.Status == "expired" {
		pub.Status = "active"
	}
	pub.UpdatedAt = time.Now()
	return p.engine.Update(ctx, &pub)
}

// RecordAccess increments a share's access counter and last-accessed
// fields. Callers record access after a successful index decrypt (public,
// protected) or commitment verification (private), never before.
func (p *Publisher) RecordAccess(ctx context.Context, shareID, userID string) error {
	pub, err := p.fetchPublication(ctx, shareID)
	if err != nil {
		return err
	}
	pub.AccessCount++
	now := time.Now()
	pub.LastAccessedAt = &now
	pub.LastAccessedByUser = userID
	pub.UpdatedAt = now
	return p.engine.Update(ctx, &pub)
}

func (p *Publisher) fetchPublication(ctx context.Context, shareID string) (storage.Publication, error) {
	var pubs []storage.Publication
	if err := p.engine.FetchAll(ctx, &pubs, "SELECT * FROM publications WHERE id = ?", shareID); err != nil {
		return storage.Publication{}, fmt.Errorf("publisher: fetch publication %s: %w", shareID, err)
	}
	if len(pubs) != 1 {
		return storage.Publication{}, fmt.Errorf("publisher: publication %s not found", shareID)
	}
	return pubs[0], nil
}

// Start launches the background expiry scanner. Calling it more than once
// is a no-op.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.scan(ctx)
	})
}

// Stop signals the scanner to exit and waits for it, up to timeout.
func (p *Publisher) Stop(timeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("publisher scanner stop timed out")
	}
}

// scan runs sweepExpired every ScanInterval until stopped, grounded on
// pkg/nntp/pool.go's monitor/sweep ticker loop.
func (p *Publisher) scan(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.sweepExpired(ctx); err != nil {
				logger.Error("publisher: expiry sweep failed", logger.Err(err))
			}
		}
	}
}

// sweepExpired transitions every active, non-revoked share whose expiry
// has passed to status expired.
func (p *Publisher) sweepExpired(ctx context.Context) error {
	return p.engine.DB().WithContext(ctx).Exec(
		`UPDATE publications SET status = 'expired', updated_at = ? WHERE status = 'active' AND revoked = false AND expires_at IS NOT NULL AND expires_at < ?`,
		time.Now(), time.Now()).Error
}
