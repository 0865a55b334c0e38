package publisher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// IndexSegment is one segment's fetch coordinates as they travel inside a
// share's encrypted index: everything pkg/download needs to retrieve and
// decode it without consulting any database the publisher owns.
type IndexSegment struct {
	Index           int    `json:"index"`
	RedundancyIndex int    `json:"redundancy_index"`
	MessageID       string `json:"message_id"`
	Nonce           []byte `json:"nonce"`
	ContentHash     string `json:"content_hash"`
	OffsetStart     int64  `json:"offset_start"`
	OffsetEnd       int64  `json:"offset_end"`
}

// IndexFile is one file's metadata and segment list inside an index.
type IndexFile struct {
	ID            string         `json:"id"`
	RelativePath  string         `json:"relative_path"`
	Size          int64          `json:"size"`
	ContentHash   string         `json:"content_hash"`
	TotalSegments int            `json:"total_segments"`
	EncryptionKey []byte         `json:"encryption_key"`
	Segments      []IndexSegment `json:"segments"`
}

// IndexPayload is the full plaintext a share's EncryptedIndex column
// conceals: the complete per-segment message-ID list a recipient needs to
// reconstruct a folder at one version (spec.md §4.1's "compact index").
type IndexPayload struct {
	FolderID   string      `json:"folder_id"`
	Version    int         `json:"version"`
	MerkleRoot string      `json:"merkle_root"`
	Files      []IndexFile `json:"files"`
}

// BuildIndex assembles folderID's index at version from storage, including
// whatever Message rows already exist for each segment (a segment without
// one yet has an empty MessageID, to be filled in once its post succeeds).
func BuildIndex(ctx context.Context, engine storage.Engine, folderID string, version int) (IndexPayload, error) {
	var folderVersions []storage.FolderVersion
	if err := engine.FetchAll(ctx, &folderVersions,
		"SELECT * FROM folder_versions WHERE folder_id = ? AND version = ?", folderID, version); err != nil {
		return IndexPayload{}, fmt.Errorf("publisher: fetch folder version %s/%d: %w", folderID, version, err)
	}
	if len(folderVersions) != 1 {
		return IndexPayload{}, fmt.Errorf("publisher: folder version %s/%d not found", folderID, version)
	}

	var files []storage.File
	if err := engine.FetchAll(ctx, &files,
		"SELECT * FROM files WHERE folder_id = ? AND version = ? ORDER BY relative_path ASC", folderID, version); err != nil {
		return IndexPayload{}, fmt.Errorf("publisher: fetch files for folder %s version %d: %w", folderID, version, err)
	}

	payload := IndexPayload{
		FolderID:   folderID,
		Version:    version,
		MerkleRoot: folderVersions[0].MerkleRoot,
		Files:      make([]IndexFile, 0, len(files)),
	}

	for _, f := range files {
		var segments []storage.Segment
		if err := engine.FetchAll(ctx, &segments,
			"SELECT * FROM segments WHERE file_id = ? ORDER BY segment_index ASC, redundancy_index ASC", f.ID); err != nil {
			return IndexPayload{}, fmt.Errorf("publisher: fetch segments for file %s: %w", f.ID, err)
		}

		indexFile := IndexFile{
			ID:            f.ID,
			RelativePath:  f.RelativePath,
			Size:          f.Size,
			ContentHash:   f.ContentHash,
			TotalSegments: f.TotalSegments,
			EncryptionKey: f.EncryptionKey,
			Segments:      make([]IndexSegment, 0, len(segments)),
		}

		for _, seg := range segments {
			var messages []storage.Message
			if err := engine.FetchAll(ctx, &messages,
				"SELECT * FROM messages WHERE segment_id = ? ORDER BY posted_at DESC LIMIT 1", seg.ID); err != nil {
				return IndexPayload{}, fmt.Errorf("publisher: fetch message for segment %s: %w", seg.ID, err)
			}
			var messageID string
			if len(messages) == 1 {
				messageID = messages[0].MessageID
			}

			indexFile.Segments = append(indexFile.Segments, IndexSegment{
				Index:           seg.SegmentIndex,
				RedundancyIndex: seg.RedundancyIndex,
				MessageID:       messageID,
				Nonce:           seg.Nonce,
				ContentHash:     seg.ContentHash,
				OffsetStart:     seg.OffsetStart,
				OffsetEnd:       seg.OffsetEnd,
			})
		}

		payload.Files = append(payload.Files, indexFile)
	}

	return payload, nil
}

// UnpostedSegmentIDs returns the storage.Segment IDs in payload that have
// no message_id yet, the set CreateShare's barrier must wait on before an
// index article can be posted. It requires a second storage.Segment fetch
// because IndexSegment intentionally carries no segment ID (a recipient
// has no use for it).
func UnpostedSegmentIDs(ctx context.Context, engine storage.Engine, payload IndexPayload) ([]string, error) {
	var ids []string
	for _, f := range payload.Files {
		for _, seg := range f.Segments {
			if seg.MessageID != "" {
				continue
			}
			var rows []storage.Segment
			if err := engine.FetchAll(ctx, &rows,
				"SELECT * FROM segments WHERE file_id = ? AND segment_index = ? AND redundancy_index = ?",
				f.ID, seg.Index, seg.RedundancyIndex); err != nil {
				return nil, fmt.Errorf("publisher: resolve segment id for file %s index %d: %w", f.ID, seg.Index, err)
			}
			if len(rows) != 1 {
				return nil, fmt.Errorf("publisher: segment row not found for file %s index %d/%d", f.ID, seg.Index, seg.RedundancyIndex)
			}
			ids = append(ids, rows[0].ID)
		}
	}
	return ids, nil
}

// EncryptIndex marshals payload to JSON and seals it under key, binding
// aad (the share identifier) so the ciphertext can never be replayed
// against a different share.
func EncryptIndex(payload IndexPayload, key crypto.AEADKey, aad []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("publisher: marshal index: %w", err)
	}

	n, err := crypto.NewNonce()
	if err != nil {
		return nil, nil, fmt.Errorf("publisher: index nonce: %w", err)
	}

	return crypto.Encrypt(key, n, plaintext, aad), n[:], nil
}

// DecryptIndex is EncryptIndex's inverse.
func DecryptIndex(ciphertext, nonceBytes []byte, key crypto.AEADKey, aad []byte) (IndexPayload, error) {
	if len(nonceBytes) != crypto.NonceSize {
		return IndexPayload{}, fmt.Errorf("publisher: index nonce has wrong length %d", len(nonceBytes))
	}
	var nonce crypto.AEADNonce
	copy(nonce[:], nonceBytes)

	plaintext, err := crypto.Decrypt(key, nonce, ciphertext, aad)
	if err != nil {
		return IndexPayload{}, fmt.Errorf("publisher: decrypt index: %w", err)
	}

	var payload IndexPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return IndexPayload{}, fmt.Errorf("publisher: unmarshal index: %w", err)
	}
	return payload, nil
}

// MaterializeIndex inserts (or replaces) the local storage.File, Segment,
// and Message rows described by a decrypted index (it writes no
// storage.Folder row, and ownerUserID is not used), the step a
// recipient process with an otherwise empty database runs once it holds
// the plaintext index so pkg/download's existing Segment/Message-driven
// queue can operate exactly as it does for the publishing side (spec.md
// §4.1's fetch data flow: "decrypt -> per-segment message identifier list
// -> NNTP pool").
func MaterializeIndex(ctx context.Context, engine storage.Engine, payload IndexPayload, ownerUserID string) error {
	for _, f := range payload.Files {
		file := &storage.File{
			ID:            f.ID,
			FolderID:      payload.FolderID,
			RelativePath:  f.RelativePath,
			Size:          f.Size,
			ContentHash:   f.ContentHash,
			Version:       payload.Version,
			TotalSegments: f.TotalSegments,
			Status:        "indexed",
			EncryptionKey: f.EncryptionKey,
		}
		if err := engine.Upsert(ctx, file, []string{"id"}); err != nil {
			return fmt.Errorf("publisher: materialize file %s: %w", f.ID, err)
		}

		for _, seg := range f.Segments {
			segmentID := segmentRowID(f.ID, seg.Index, seg.RedundancyIndex)
			row := &storage.Segment{
				ID:              segmentID,
				FileID:          f.ID,
				SegmentIndex:    seg.Index,
				OffsetStart:     seg.OffsetStart,
				OffsetEnd:       seg.OffsetEnd,
				ContentHash:     seg.ContentHash,
				RedundancyIndex: seg.RedundancyIndex,
				InternalSubject: "materialized",
				Nonce:           seg.Nonce,
				State:           "posted",
			}
			if err := engine.Upsert(ctx, row, []string{"id"}); err != nil {
				return fmt.Errorf("publisher: materialize segment %s: %w", segmentID, err)
			}

			if seg.MessageID == "" {
				continue
			}
			msg := &storage.Message{
				ID:        segmentID + "-msg",
				SegmentID: segmentID,
				MessageID: seg.MessageID,
			}
			if err := engine.Upsert(ctx, msg, []string{"id"}); err != nil {
				return fmt.Errorf("publisher: materialize message for segment %s: %w", segmentID, err)
			}
		}
	}
	return nil
}

func segmentRowID(fileID string, index, redundancyIndex int) string {
	return hex.EncodeToString([]byte(fmt.Sprintf("%s:%d:%d", fileID, index, redundancyIndex)))[:36]
}
