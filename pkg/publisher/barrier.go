package publisher

import "sync"

// Barrier tracks, per share identifier, the set of segment IDs a pending
// publication is still waiting on. CreateShare registers the share's
// segments that have no Message row yet, then blocks on the channel
// Register returns; an upload.Pool wired with
// SetNotifier(barrier) calls SegmentPosted as each segment's Message row
// lands, and the channel closes the instant the last one does (spec.md
// §4.9: "the index article is posted after all referenced segments have
// succeeded ... an in-memory barrier keyed by share identifier").
//
// A Barrier only ever reflects segments posted during the lifetime of the
// process that registered them; it is not a substitute for the durable
// storage.Message rows it watches, only a wakeup mechanism layered on top.
type Barrier struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
	done    map[string]chan struct{}
}

// NewBarrier builds an empty Barrier.
func NewBarrier() *Barrier {
	return &Barrier{
		pending: make(map[string]map[string]struct{}),
		done:    make(map[string]chan struct{}),
	}
}

// Register declares that shareID is waiting on exactly segmentIDs, and
// returns a channel that closes once every one of them has been signaled.
// If segmentIDs is empty the returned channel is already closed. Calling
// Register again for a shareID still pending replaces its segment set.
func (b *Barrier) Register(shareID string, segmentIDs []string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan struct{})
	if len(segmentIDs) == 0 {
		close(ch)
		return ch
	}

	set := make(map[string]struct{}, len(segmentIDs))
	for _, id := range segmentIDs {
		set[id] = struct{}{}
	}
	b.pending[shareID] = set
	b.done[shareID] = ch
	return ch
}

// SegmentPosted marks segmentID complete for every share currently
// waiting on it, closing that share's channel once its set empties.
// Satisfies upload.SegmentNotifier.
func (b *Barrier) SegmentPosted(segmentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for shareID, set := range b.pending {
		if _, ok := set[segmentID]; !ok {
			continue
		}
		delete(set, segmentID)
		if len(set) == 0 {
			delete(b.pending, shareID)
			close(b.done[shareID])
			delete(b.done, shareID)
		}
	}
}

// Cancel releases shareID's registration without closing its channel,
// used when a CreateShare call is abandoned (e.g. its context was
// canceled while waiting).
func (b *Barrier) Cancel(shareID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, shareID)
	delete(b.done, shareID)
}
