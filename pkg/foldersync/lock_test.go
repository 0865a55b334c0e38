package foldersync

import "testing"

func TestLockSetTryLockExcludesConcurrentHolder(t *testing.T) {
	locks := NewLockSet()

	if !locks.TryLock("folder-a") {
		t.Fatal("TryLock() = false on first claim, want true")
	}
	if locks.TryLock("folder-a") {
		t.Fatal("TryLock() = true while already held, want false")
	}
	if !locks.TryLock("folder-b") {
		t.Fatal("TryLock() = false for a different folder, want true")
	}
}

func TestLockSetUnlockReleasesClaim(t *testing.T) {
	locks := NewLockSet()

	locks.TryLock("folder-a")
	locks.Unlock("folder-a")

	if !locks.TryLock("folder-a") {
		t.Fatal("TryLock() = false after Unlock, want true")
	}
}

func TestLockSetUnlockUnheldIsNoop(t *testing.T) {
	locks := NewLockSet()
	locks.Unlock("never-held") // must not panic

	if locks.Locked("never-held") {
		t.Fatal("Locked() = true for a folder never locked")
	}
}

func TestLockSetLockedReportsCurrentHolders(t *testing.T) {
	locks := NewLockSet()
	if locks.Locked("folder-a") {
		t.Fatal("Locked() = true before any TryLock")
	}
	locks.TryLock("folder-a")
	if !locks.Locked("folder-a") {
		t.Fatal("Locked() = false while held")
	}
}
