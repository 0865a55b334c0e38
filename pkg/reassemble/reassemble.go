// Package reassemble turns the segments pkg/download staged back into
// whole files and verifies them: concatenate primary segments in index
// order, falling back to Reed-Solomon reconstruction across primary and
// parity segments when some primary segments never downloaded, then
// verify the whole-file content hash and, at folder granularity, the
// Merkle root recorded for that version (spec.md §4.1, §4.4, §4.9).
package reassemble

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/redundancy"
	"github.com/kraklabs/usenetsync/pkg/segment"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// Kind classifies an IntegrityError.
type Kind string

const (
	KindHashMismatch   Kind = "hash_mismatch"
	KindMerkleMismatch Kind = "merkle_mismatch"
	KindSizeMismatch   Kind = "size_mismatch"
	KindIncomplete     Kind = "incomplete"
)

// IntegrityError reports a verification failure. It is always fatal to
// the affected file; a caller may retry with redundancy once more shards
// have been fetched, but it never recovers silently.
type IntegrityError struct {
	Kind   Kind
	FileID string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("reassemble: %s for file %s: %s", e.Kind, e.FileID, e.Detail)
}

// Reassemble concatenates fileID's staged primary segments from
// stagingDir (the DestDir a download.Pool wrote into) into outputPath,
// reconstructing any missing primary segments from staged parity segments
// via Reed-Solomon when necessary, and verifies the result against the
// file's recorded content hash.
func Reassemble(ctx context.Context, engine storage.Engine, stagingDir, outputPath string, fileID string) error {
	var files []storage.File
	if err := engine.FetchAll(ctx, &files, "SELECT * FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("reassemble: fetch file %s: %w", fileID, err)
	}
	if len(files) != 1 {
		return fmt.Errorf("reassemble: file %s not found", fileID)
	}
	file := files[0]

	var segments []storage.Segment
	if err := engine.FetchAll(ctx, &segments,
		"SELECT * FROM segments WHERE file_id = ? ORDER BY segment_index ASC", fileID); err != nil {
		return fmt.Errorf("reassemble: fetch segments for file %s: %w", fileID, err)
	}

	primary := make([]*storage.Segment, file.TotalSegments)
	var parity []*storage.Segment
	for i := range segments {
		s := &segments[i]
		if s.SegmentIndex < file.TotalSegments {
			primary[s.SegmentIndex] = s
		} else {
			parity = append(parity, s)
		}
	}
	sort.Slice(parity, func(i, j int) bool { return parity[i].SegmentIndex < parity[j].SegmentIndex })

	plaintexts, missing, err := loadStagedSegments(stagingDir, fileID, primary)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		if len(missing) > len(parity) {
			return &IntegrityError{Kind: KindIncomplete, FileID: fileID,
				Detail: fmt.Sprintf("%d primary segments missing, only %d parity segments staged", len(missing), len(parity))}
		}
		if err := reconstructMissing(stagingDir, fileID, primary, parity, plaintexts, missing); err != nil {
			return err
		}
	}

	if err := concatenate(outputPath, plaintexts); err != nil {
		return err
	}

	return verifyContentHash(outputPath, file)
}

func loadStagedSegments(stagingDir, fileID string, primary []*storage.Segment) (plaintexts [][]byte, missing []int, err error) {
	plaintexts = make([][]byte, len(primary))
	for idx := range primary {
		path := stagedPath(stagingDir, fileID, idx)
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			missing = append(missing, idx)
			continue
		}
		plaintexts[idx] = data
	}
	return plaintexts, missing, nil
}

// reconstructMissing recovers missing primary segments using whatever
// parity segments were staged, applying redundancy.Encoder once over the
// file's full (data + parity) shard set. Every primary segment, present
// or not, must contribute its original length so the recovered shard can
// be truncated back down from its Reed-Solomon padding.
func reconstructMissing(stagingDir, fileID string, primary, parity []*storage.Segment, plaintexts [][]byte, missing []int) error {
	k := len(primary)
	m := len(parity)

	shards := make([][]byte, k+m)
	lengths := make([]int, k+m)
	for idx, seg := range primary {
		lengths[idx] = int(seg.OffsetEnd - seg.OffsetStart)
		if plaintexts[idx] != nil {
			shards[idx] = plaintexts[idx]
		}
	}
	for i, seg := range parity {
		data, err := os.ReadFile(stagedPath(stagingDir, fileID, seg.SegmentIndex))
		if err != nil {
			continue // this parity shard simply never downloaded
		}
		shards[k+i] = data
		lengths[k+i] = len(data)
	}

	// Every shard must be the same length for Reed-Solomon's GF arithmetic;
	// primary segments are segment.Size bytes except a possible short final
	// one, and parity shards were built over the same padded width at
	// ingest time, so the longest staged shard gives the common width
	// (segment.Size only when nothing staged at all).
	present := make([][]byte, 0, k+m)
	for _, s := range shards {
		if s != nil {
			present = append(present, s)
		}
	}
	padded, _ := redundancy.PadShards(present)
	padLen := segmentPadLen(padded)
	for i, s := range shards {
		if s != nil && len(s) < padLen {
			buf := make([]byte, padLen)
			copy(buf, s)
			shards[i] = buf
		}
	}

	encoder, err := redundancy.New(k, m)
	if err != nil {
		return fmt.Errorf("reassemble: build redundancy encoder: %w", err)
	}
	if err := encoder.Reconstruct(shards); err != nil {
		return &IntegrityError{Kind: KindIncomplete, FileID: fileID, Detail: err.Error()}
	}

	truncated := redundancy.Truncate(shards[:k], lengths[:k])
	for _, idx := range missing {
		plaintexts[idx] = truncated[idx]
	}
	return nil
}

// segmentPadLen returns the common shard width to pad every shard to:
// the largest staged shard seen, or segment.Size if nothing at all
// staged (every shard still missing, reconstruction will fail regardless).
func segmentPadLen(padded [][]byte) int {
	if len(padded) > 0 {
		return len(padded[0])
	}
	return segment.Size
}

func stagedPath(stagingDir, fileID string, segmentIndex int) string {
	return filepath.Join(stagingDir, fileID, fmt.Sprintf("%d.seg", segmentIndex))
}

func concatenate(outputPath string, plaintexts [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		return fmt.Errorf("reassemble: create output dir: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("reassemble: create output file: %w", err)
	}
	defer f.Close()

	for _, chunk := range plaintexts {
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("reassemble: write output file: %w", err)
		}
	}
	return nil
}

func verifyContentHash(outputPath string, file storage.File) error {
	f, err := os.Open(outputPath)
	if err != nil {
		return fmt.Errorf("reassemble: reopen output file for verification: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("reassemble: hash output file: %w", err)
	}
	if file.Size != 0 && size != file.Size {
		return &IntegrityError{Kind: KindSizeMismatch, FileID: file.ID,
			Detail: fmt.Sprintf("expected %d bytes, got %d", file.Size, size)}
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != file.ContentHash {
		return &IntegrityError{Kind: KindHashMismatch, FileID: file.ID,
			Detail: fmt.Sprintf("expected %s, got %s", file.ContentHash, got)}
	}
	return nil
}

// VerifyFolderMerkleRoot recomputes a folder version's Merkle root over
// its files' content hashes in canonical (ascending relative path) order
// and compares it against the value recorded at indexing time.
func VerifyFolderMerkleRoot(ctx context.Context, engine storage.Engine, folderID string, version int) error {
	var files []storage.File
	if err := engine.FetchAll(ctx, &files,
		"SELECT * FROM files WHERE folder_id = ? AND version = ? ORDER BY relative_path ASC", folderID, version); err != nil {
		return fmt.Errorf("reassemble: fetch files for folder %s version %d: %w", folderID, version, err)
	}

	leaves := make([][32]byte, 0, len(files))
	for _, f := range files {
		raw, err := hex.DecodeString(f.ContentHash)
		if err != nil {
			return fmt.Errorf("reassemble: decode content hash for file %s: %w", f.ID, err)
		}
		var leaf [32]byte
		copy(leaf[:], raw)
		leaves = append(leaves, leaf)
	}
	root := crypto.MerkleRoot(leaves)
	computed := hex.EncodeToString(root[:])

	var versions []storage.FolderVersion
	if err := engine.FetchAll(ctx, &versions,
		"SELECT * FROM folder_versions WHERE folder_id = ? AND version = ?", folderID, version); err != nil {
		return fmt.Errorf("reassemble: fetch folder version %s/%d: %w", folderID, version, err)
	}
	if len(versions) != 1 {
		return fmt.Errorf("reassemble: folder version %s/%d not found", folderID, version)
	}

	if computed != versions[0].MerkleRoot {
		return &IntegrityError{Kind: KindMerkleMismatch, FileID: folderID,
			Detail: fmt.Sprintf("expected %s, got %s", versions[0].MerkleRoot, computed)}
	}
	return nil
}
