// Package foldersync drives the ingest side of the engine: turning a scan
// of a local folder into staged, encrypted, redundancy-protected segments
// and durable upload_queue_entries rows (spec.md §4.3-§4.5, §5).
//
// The original implementation tracked in-progress folders with a bare map
// keyed by folder ID (fix_duplicate_processing.py patched a race where two
// overlapping scan triggers both believed they owned a folder and queued
// its files twice). LockSet replaces the map with a small named type so
// the invariant it protects - at most one sync in flight per folder - is
// independently testable instead of implicit in call-site discipline.
package foldersync

import "sync"

// LockSet hands out at most one held lock per folder ID at a time.
type LockSet struct {
	mu      sync.Mutex
	held    map[string]struct{}
}

// NewLockSet returns an empty LockSet.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]struct{})}
}

// TryLock claims folderID and reports whether the claim succeeded. A
// false return means another sync for this folder is already in flight.
func (l *LockSet) TryLock(folderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[folderID]; ok {
		return false
	}
	l.held[folderID] = struct{}{}
	return true
}

// Unlock releases folderID. Unlocking a folder that isn't held is a no-op.
func (l *LockSet) Unlock(folderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, folderID)
}

// Locked reports whether folderID is currently held. Intended for status
// reporting and tests, not for synchronization decisions.
func (l *LockSet) Locked(folderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[folderID]
	return ok
}
