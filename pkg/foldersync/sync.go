// Package foldersync turns a scan of a local folder into encrypted,
// redundancy-protected segments staged on disk and durable
// upload_queue_entries rows, advancing the folder to its next version
// (spec.md §4.3-§4.5). pkg/upload's Pool claims the rows this package
// writes; the staging directory is the hand-off boundary between the two.
package foldersync

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/keymanager"
	"github.com/kraklabs/usenetsync/pkg/obfuscator"
	"github.com/kraklabs/usenetsync/pkg/redundancy"
	"github.com/kraklabs/usenetsync/pkg/scanner"
	"github.com/kraklabs/usenetsync/pkg/segment"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// ErrSyncInProgress is returned by SyncFolder when another sync of the
// same folder is already running.
var ErrSyncInProgress = fmt.Errorf("foldersync: sync already in progress for this folder")

// Config controls segmentation and redundancy for every folder a Service
// manages.
type Config struct {
	StagingDir   string
	ScanWorkers  int
	ParityShards int // zero means redundancy.DefaultParityShards
}

func (c *Config) applyDefaults() {
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = scanner.DefaultWorkerCount
	}
	if c.ParityShards <= 0 {
		c.ParityShards = redundancy.DefaultParityShards
	}
}

// Service scans folders, assigns per-file keys, splits and redundancy-
// encodes their content, and stages the resulting plaintext segments for
// pkg/upload to post.
type Service struct {
	cfg       Config
	engine    storage.Engine
	keys      *keymanager.Manager
	masterKey crypto.AEADKey
	locks     *LockSet
}

// New builds a Service. masterKey decrypts the folder keys Service loads
// before every sync.
func New(cfg Config, engine storage.Engine, keys *keymanager.Manager, masterKey crypto.AEADKey) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:       cfg,
		engine:    engine,
		keys:      keys,
		masterKey: masterKey,
		locks:     NewLockSet(),
	}
}

// AddFolder registers a new synchronized folder: it mints a folder ID,
// generates and persists its Ed25519 keypair, and inserts the Folder row.
// The returned folder has version 0 and zero files until the first
// SyncFolder call.
func (s *Service) AddFolder(ctx context.Context, localPath, displayName, ownerUserID, accessMode string) (*storage.Folder, error) {
	folderID, err := keymanager.NewFolderID()
	if err != nil {
		return nil, err
	}

	folder := &storage.Folder{
		LocalPath:   localPath,
		DisplayName: displayName,
		OwnerUserID: ownerUserID,
		AccessMode:  accessMode,
		Status:      "active",
	}
	if err := s.keys.GenerateFolderKeys(ctx, folderID, s.masterKey, folder); err != nil {
		return nil, fmt.Errorf("foldersync: generate folder keys: %w", err)
	}
	return folder, nil
}

// Result summarizes one SyncFolder pass.
type Result struct {
	Version       int
	FilesChanged  int
	FilesTotal    int
	SegmentsStaged int
}

// SyncFolder scans folderID's local path, diffs it against the last
// completed version's file list, and for every added or modified file:
// assigns a fresh per-file encryption key, splits the content into
// segments, computes Reed-Solomon parity over the file's segment set,
// stages every resulting plaintext segment to cfg.StagingDir, and inserts
// the Segment and upload_queue_entries rows pkg/upload needs to post them.
// Unchanged files (same relative path and content hash as the prior
// version) are carried forward without re-encoding or re-uploading.
//
// Only one SyncFolder call runs at a time per folder; a concurrent call
// for the same folder returns ErrSyncInProgress instead of blocking, since
// a scan that's already in flight will itself pick up anything the second
// caller would have found.
func (s *Service) SyncFolder(ctx context.Context, folderID string) (Result, error) {
	if !s.locks.TryLock(folderID) {
		return Result{}, ErrSyncInProgress
	}
	defer s.locks.Unlock(folderID)

	var folders []storage.Folder
	if err := s.engine.FetchAll(ctx, &folders, "SELECT * FROM folders WHERE id = ?", folderID); err != nil {
		return Result{}, fmt.Errorf("foldersync: fetch folder %s: %w", folderID, err)
	}
	if len(folders) != 1 {
		return Result{}, fmt.Errorf("foldersync: folder %s not found", folderID)
	}
	folder := folders[0]

	descriptors, err := scanner.Scan(ctx, folder.LocalPath, scanner.Config{Workers: s.cfg.ScanWorkers})
	if err != nil {
		return Result{}, fmt.Errorf("foldersync: scan %s: %w", folder.LocalPath, err)
	}

	previous := make(map[string]storage.File)
	if folder.CurrentVersion > 0 {
		var prevFiles []storage.File
		if err := s.engine.FetchAll(ctx, &prevFiles,
			"SELECT * FROM files WHERE folder_id = ? AND version = ?", folderID, folder.CurrentVersion); err != nil {
			return Result{}, fmt.Errorf("foldersync: fetch previous version files: %w", err)
		}
		for _, f := range prevFiles {
			previous[f.RelativePath] = f
		}
	}

	nextVersion := folder.CurrentVersion + 1
	var leaves [][32]byte
	var totalSize int64
	var filesChanged, segmentsStaged int

	for _, desc := range descriptors {
		totalSize += desc.Size
		leaves = append(leaves, crypto.HashLeaf([]byte(desc.RelativePath+":"+desc.ContentHash)))

		prior, existed := previous[desc.RelativePath]
		if existed && prior.ContentHash == desc.ContentHash {
			// Unchanged: carry the file forward at the new version without
			// re-segmenting or re-uploading anything: its segments and
			// already-posted messages are duplicated onto a fresh file row
			// so BuildIndex's per-version lookup finds them without this
			// engine touching the network again.
			if err := s.carryForwardFile(ctx, prior, nextVersion); err != nil {
				return Result{}, fmt.Errorf("foldersync: carry forward %s: %w", desc.RelativePath, err)
			}
			continue
		}

		staged, err := s.ingestFile(ctx, folder, nextVersion, desc)
		if err != nil {
			return Result{}, fmt.Errorf("foldersync: ingest %s: %w", desc.RelativePath, err)
		}
		filesChanged++
		segmentsStaged += staged
	}

	merkleRoot := crypto.MerkleRoot(leaves)
	merkleRootHex := fmt.Sprintf("%x", merkleRoot)

	version := storage.FolderVersion{
		ID:         uuid.New().String(),
		FolderID:   folderID,
		Version:    nextVersion,
		FileCount:  len(descriptors),
		TotalSize:  totalSize,
		MerkleRoot: merkleRootHex,
	}
	if err := s.engine.Insert(ctx, &version); err != nil {
		return Result{}, fmt.Errorf("foldersync: insert folder version: %w", err)
	}

	folder.CurrentVersion = nextVersion
	folder.FileCount = len(descriptors)
	folder.TotalSize = totalSize
	if err := s.engine.Update(ctx, &folder); err != nil {
		return Result{}, fmt.Errorf("foldersync: update folder: %w", err)
	}

	logger.Info("folder sync complete",
		logger.FolderID(folderID), logger.Version(nextVersion),
		logger.FilesChanged(filesChanged), logger.SegmentsStaged(segmentsStaged))

	return Result{
		Version:        nextVersion,
		FilesChanged:   filesChanged,
		FilesTotal:     len(descriptors),
		SegmentsStaged: segmentsStaged,
	}, nil
}

// carryForwardFile duplicates prior's File row, every one of its Segment
// rows, and each segment's latest posted Message row onto version, without
// writing anything new to the staging directory or the upload queue.
func (s *Service) carryForwardFile(ctx context.Context, prior storage.File, version int) error {
	carried := prior
	carried.ID = uuid.New().String()
	carried.Version = version
	previousID := prior.ID
	carried.PreviousVersionID = &previousID
	if err := s.engine.Insert(ctx, &carried); err != nil {
		return fmt.Errorf("insert carried file row: %w", err)
	}

	var segments []storage.Segment
	if err := s.engine.FetchAll(ctx, &segments, "SELECT * FROM segments WHERE file_id = ?", prior.ID); err != nil {
		return fmt.Errorf("fetch prior segments: %w", err)
	}

	for _, seg := range segments {
		var messages []storage.Message
		if err := s.engine.FetchAll(ctx, &messages,
			"SELECT * FROM messages WHERE segment_id = ? ORDER BY posted_at DESC LIMIT 1", seg.ID); err != nil {
			return fmt.Errorf("fetch prior message for segment %s: %w", seg.ID, err)
		}

		newSeg := seg
		newSeg.ID = uuid.New().String()
		newSeg.FileID = carried.ID
		if err := s.engine.Insert(ctx, &newSeg); err != nil {
			return fmt.Errorf("insert carried segment row: %w", err)
		}

		if len(messages) == 1 {
			msg := messages[0]
			msg.ID = uuid.New().String()
			msg.SegmentID = newSeg.ID
			if err := s.engine.Insert(ctx, &msg); err != nil {
				return fmt.Errorf("insert carried message row: %w", err)
			}
		}
	}
	return nil
}

// ingestFile assigns desc a fresh File row, splits and redundancy-encodes
// its content, stages every segment's plaintext, and enqueues upload work
// for each one. It returns the number of segments staged (data + parity).
func (s *Service) ingestFile(ctx context.Context, folder storage.Folder, version int, desc scanner.FileDescriptor) (int, error) {
	keypair, err := s.keys.LoadFolderKeys(ctx, folder.ID, s.masterKey)
	if err != nil {
		return 0, fmt.Errorf("load folder keys: %w", err)
	}

	var fileKey crypto.AEADKey
	if _, err := rand.Read(fileKey[:]); err != nil {
		return 0, fmt.Errorf("generate file key: %w", err)
	}

	src, err := os.Open(desc.AbsolutePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", desc.AbsolutePath, err)
	}
	defer func() { _ = src.Close() }()

	descriptors, payloads, err := segment.Split(src)
	if err != nil {
		return 0, fmt.Errorf("split %s: %w", desc.RelativePath, err)
	}
	file := storage.File{
		ID:            uuid.New().String(),
		FolderID:      folder.ID,
		RelativePath:  desc.RelativePath,
		Size:          desc.Size,
		ContentHash:   desc.ContentHash,
		Version:       version,
		Status:        "pending",
		TotalSegments: len(descriptors),
		EncryptionKey: fileKey[:],
	}
	if err := s.engine.Insert(ctx, &file); err != nil {
		return 0, fmt.Errorf("insert file row: %w", err)
	}

	staged := 0
	for i, d := range descriptors {
		if err := s.stageSegment(ctx, folder, file, keypair, d.Index, 0, d.ContentHash, d.OffsetStart, d.OffsetEnd, d.Size, payloads[i]); err != nil {
			return staged, fmt.Errorf("stage primary segment %d: %w", d.Index, err)
		}
		staged++
	}

	if len(payloads) == 0 {
		return staged, nil
	}

	parity, parityShardSize, err := s.encodeParity(payloads)
	if err != nil {
		return staged, fmt.Errorf("encode parity: %w", err)
	}
	for j, shard := range parity {
		hash := fmt.Sprintf("%x", crypto.HashLeaf(shard))
		if err := s.stageSegment(ctx, folder, file, keypair, len(descriptors)+j, j+1, hash, 0, int64(parityShardSize), int64(parityShardSize), shard); err != nil {
			return staged, fmt.Errorf("stage parity segment %d: %w", j, err)
		}
		staged++
	}

	return staged, nil
}

// encodeParity runs Reed-Solomon encoding over a file's full primary
// segment set (spec.md §4.4): k equals the segment count, padded so every
// shard shares the common, largest segment's length.
func (s *Service) encodeParity(payloads [][]byte) (parity [][]byte, shardSize int, err error) {
	padded, _ := redundancy.PadShards(payloads)
	if len(padded) == 0 {
		return nil, 0, nil
	}
	shardSize = len(padded[0])

	enc, err := redundancy.New(len(padded), s.cfg.ParityShards)
	if err != nil {
		return nil, 0, err
	}
	parity, err = enc.Encode(padded)
	if err != nil {
		return nil, 0, err
	}
	return parity, shardSize, nil
}

// stageSegment writes one segment's plaintext to the staging directory,
// inserts its Segment row, and enqueues the corresponding upload task.
func (s *Service) stageSegment(
	ctx context.Context,
	folder storage.Folder,
	file storage.File,
	folderKeys crypto.KeyPair,
	segmentIndex, redundancyIndex int,
	contentHash string,
	offsetStart, offsetEnd, size int64,
	plaintext []byte,
) error {
	nonce, err := crypto.NewNonce()
	if err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	seg := storage.Segment{
		ID:               uuid.New().String(),
		FileID:           file.ID,
		SegmentIndex:     segmentIndex,
		OffsetStart:      offsetStart,
		OffsetEnd:        offsetEnd,
		UncompressedSize: size,
		ContentHash:      contentHash,
		RedundancyIndex:  redundancyIndex,
		InternalSubject:  obfuscator.InternalSubject(folder.ID, file.ID, uint32(segmentIndex), folderKeys.PrivateKey),
		Nonce:            nonce[:],
		State:            "new",
	}
	if err := s.engine.Insert(ctx, &seg); err != nil {
		return fmt.Errorf("insert segment row: %w", err)
	}

	if err := writeStagedSegment(s.cfg.StagingDir, seg.ID, plaintext); err != nil {
		return err
	}

	entry := storage.UploadQueueEntry{
		ID:        uuid.New().String(),
		SegmentID: seg.ID,
		Priority:  0,
	}
	if err := s.engine.Insert(ctx, &entry); err != nil {
		return fmt.Errorf("insert upload queue entry: %w", err)
	}
	return nil
}

func writeStagedSegment(stagingDir, segmentID string, plaintext []byte) error {
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	path := filepath.Join(stagingDir, segmentID+".seg")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create staged segment %s: %w", segmentID, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(plaintext); err != nil {
		return fmt.Errorf("write staged segment %s: %w", segmentID, err)
	}
	return nil
}
