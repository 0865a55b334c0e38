package foldersync

import (
	"context"
	"time"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// Watcher periodically re-syncs every active folder, so changes made to a
// synced directory between explicit CLI-triggered syncs still eventually
// get picked up.
type Watcher struct {
	svc      *Service
	engine   storage.Engine
	interval time.Duration
}

// NewWatcher builds a Watcher that re-scans every active folder every
// interval.
func NewWatcher(svc *Service, engine storage.Engine, interval time.Duration) *Watcher {
	return &Watcher{svc: svc, engine: engine, interval: interval}
}

// Run blocks, syncing every active folder once per tick, until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

func (w *Watcher) syncAll(ctx context.Context) {
	var folders []storage.Folder
	if err := w.engine.FetchAll(ctx, &folders, "SELECT * FROM folders WHERE status = 'active'"); err != nil {
		logger.Error("foldersync watcher: list active folders", logger.Err(err))
		return
	}

	for _, folder := range folders {
		result, err := w.svc.SyncFolder(ctx, folder.ID)
		if err != nil {
			if err == ErrSyncInProgress {
				continue
			}
			logger.Error("foldersync watcher: sync folder", logger.FolderID(folder.ID), logger.Err(err))
			continue
		}
		if result.FilesChanged > 0 {
			logger.Info("foldersync watcher: folder advanced",
				logger.FolderID(folder.ID), logger.Version(result.Version), logger.FilesChanged(result.FilesChanged))
		}
	}
}
