package download

import (
	"context"
	"fmt"
	"time"

	"github.com/kraklabs/usenetsync/pkg/storage"
)

const maxErrorLen = 2048

// claimNext mirrors pkg/upload's claim: fetch likely candidates ordered by
// priority, then try to exclusively flip one from pending to downloading
// with a conditional UPDATE, so two workers racing on the same row only
// ever let one of them proceed.
func claimNext(ctx context.Context, engine storage.Engine) (storage.DownloadQueueEntry, bool, error) {
	var candidates []storage.DownloadQueueEntry
	err := engine.FetchAll(ctx, &candidates,
		"SELECT * FROM download_queue_entries WHERE state = 'pending' ORDER BY priority DESC, created_at ASC LIMIT 10")
	if err != nil {
		return storage.DownloadQueueEntry{}, false, fmt.Errorf("download: list candidates: %w", err)
	}

	for _, candidate := range candidates {
		result := engine.DB().WithContext(ctx).Exec(
			"UPDATE download_queue_entries SET state = 'downloading', updated_at = ? WHERE id = ? AND state = 'pending'",
			time.Now(), candidate.ID)
		if result.Error != nil {
			return storage.DownloadQueueEntry{}, false, fmt.Errorf("download: claim %s: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			candidate.State = "downloading"
			return candidate, true, nil
		}
	}

	return storage.DownloadQueueEntry{}, false, nil
}

func markDone(ctx context.Context, engine storage.Engine, id string) error {
	result := engine.DB().WithContext(ctx).Exec(
		"UPDATE download_queue_entries SET state = 'done', updated_at = ? WHERE id = ?", time.Now(), id)
	return result.Error
}

func markFailed(ctx context.Context, engine storage.Engine, id string, cause error) error {
	result := engine.DB().WithContext(ctx).Exec(
		"UPDATE download_queue_entries SET state = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?",
		truncateError(cause), time.Now(), id)
	return result.Error
}

func requeue(ctx context.Context, engine storage.Engine, id string, cause error) error {
	result := engine.DB().WithContext(ctx).Exec(
		"UPDATE download_queue_entries SET state = 'pending', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?",
		truncateError(cause), time.Now(), id)
	return result.Error
}

func countPending(ctx context.Context, engine storage.Engine) (int, error) {
	var rows []storage.DownloadQueueEntry
	if err := engine.FetchAll(ctx, &rows, "SELECT * FROM download_queue_entries WHERE state = 'pending'"); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// segmentCandidates returns every Segment row for (fileID, segmentIndex),
// primary copy (redundancy index 0) first, so fetchEntry tries it before
// falling back to redundancy copies.
func segmentCandidates(ctx context.Context, engine storage.Engine, fileID string, segmentIndex int) ([]storage.Segment, error) {
	var segments []storage.Segment
	err := engine.FetchAll(ctx, &segments,
		"SELECT * FROM segments WHERE file_id = ? AND segment_index = ? ORDER BY redundancy_index ASC",
		fileID, segmentIndex)
	if err != nil {
		return nil, fmt.Errorf("download: list segment candidates: %w", err)
	}
	return segments, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
