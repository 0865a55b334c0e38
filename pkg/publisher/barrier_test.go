package publisher

import (
	"testing"
	"time"
)

func TestBarrierClosesOnceEverySegmentPosted(t *testing.T) {
	b := NewBarrier()
	ready := b.Register("share-1", []string{"seg-a", "seg-b"})

	select {
	case <-ready:
		t.Fatal("expected barrier to still be open")
	default:
	}

	b.SegmentPosted("seg-a")

	select {
	case <-ready:
		t.Fatal("expected barrier to still be open after only one of two segments")
	default:
	}

	b.SegmentPosted("seg-b")

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("expected barrier to close once both segments posted")
	}
}

func TestBarrierWithNoSegmentsIsImmediatelyReady(t *testing.T) {
	b := NewBarrier()
	ready := b.Register("share-empty", nil)

	select {
	case <-ready:
	default:
		t.Fatal("expected an empty segment set to close the channel immediately")
	}
}

func TestBarrierIsolatesDistinctShares(t *testing.T) {
	b := NewBarrier()
	readyA := b.Register("share-a", []string{"seg-1"})
	readyB := b.Register("share-b", []string{"seg-1"})

	b.SegmentPosted("seg-1")

	for name, ch := range map[string]<-chan struct{}{"a": readyA, "b": readyB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("expected share %s to close once its shared segment id posted", name)
		}
	}
}

func TestBarrierCancelDropsRegistration(t *testing.T) {
	b := NewBarrier()
	b.Register("share-1", []string{"seg-a"})
	b.Cancel("share-1")

	b.mu.Lock()
	_, stillPending := b.pending["share-1"]
	b.mu.Unlock()
	if stillPending {
		t.Fatal("expected Cancel to remove the share's pending set")
	}

	// Signaling a canceled share's segment must not panic even though
	// nothing is listening anymore.
	b.SegmentPosted("seg-a")
}
