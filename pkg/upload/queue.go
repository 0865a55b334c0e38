package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/kraklabs/usenetsync/pkg/storage"
)

// claimNext atomically claims the highest-priority pending upload entry by
// flipping its state from pending to uploading in a single conditional
// UPDATE, so two workers racing on the same row never both win it. This is
// the durable-queue analogue of the teacher's in-memory channel claim
// (receiving from TransferQueue.queue can only ever hand a value to one
// goroutine); here the "channel" is a shared table, so the exclusivity has
// to come from the UPDATE's WHERE clause instead of Go's channel semantics.
func claimNext(ctx context.Context, engine storage.Engine) (storage.UploadQueueEntry, bool, error) {
	var candidates []storage.UploadQueueEntry
	err := engine.FetchAll(ctx, &candidates,
		`SELECT * FROM upload_queue_entries WHERE state = 'pending' ORDER BY priority DESC, created_at ASC LIMIT 10`)
	if err != nil {
		return storage.UploadQueueEntry{}, false, fmt.Errorf("upload: list candidates: %w", err)
	}

	for _, candidate := range candidates {
		result := engine.DB().WithContext(ctx).Exec(
			`UPDATE upload_queue_entries SET state = 'uploading', updated_at = ? WHERE id = ? AND state = 'pending'`,
			time.Now(), candidate.ID)
		if result.Error != nil {
			return storage.UploadQueueEntry{}, false, fmt.Errorf("upload: claim: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return candidate, true, nil
		}
		// Another worker won the race; try the next candidate.
	}
	return storage.UploadQueueEntry{}, false, nil
}

func markDone(ctx context.Context, engine storage.Engine, id string) error {
	return engine.DB().WithContext(ctx).Exec(
		`UPDATE upload_queue_entries SET state = 'done', updated_at = ? WHERE id = ?`,
		time.Now(), id).Error
}

func markFailed(ctx context.Context, engine storage.Engine, id string, cause error) error {
	return engine.DB().WithContext(ctx).Exec(
		`UPDATE upload_queue_entries SET state = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		truncateError(cause), time.Now(), id).Error
}

func requeue(ctx context.Context, engine storage.Engine, id string, cause error) error {
	return engine.DB().WithContext(ctx).Exec(
		`UPDATE upload_queue_entries SET state = 'pending', attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		truncateError(cause), time.Now(), id).Error
}

func countPending(ctx context.Context, engine storage.Engine) (int, error) {
	var rows []struct{ N int }
	if err := engine.FetchAll(ctx, &rows, `SELECT COUNT(*) AS n FROM upload_queue_entries WHERE state = 'pending'`); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

func truncateError(err error) string {
	msg := err.Error()
	const max = 2048
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
