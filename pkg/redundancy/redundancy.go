// Package redundancy adds Reed-Solomon erasure-coded parity to a file's
// primary segments so that any k of the resulting k+m segments suffice to
// reconstruct the original data (spec.md §4.4).
package redundancy

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// DefaultParityShards is the default parity segment count (m) added to
// every file's primary (data) segments.
const DefaultParityShards = 3

// ErrTooFewShards is returned when reconstruction is attempted with fewer
// than k surviving shards.
var ErrTooFewShards = errors.New("redundancy: fewer than k shards available, cannot reconstruct")

// Encoder wraps a Reed-Solomon codec configured for a fixed (k, m) shard
// count. All primary segments of one file must share the same size for GF
// arithmetic to apply uniformly; callers pad the final, short segment to
// the common shard size before calling Encode and must truncate back to
// the file's real size after Reconstruct.
type Encoder struct {
	dataShards   int
	parityShards int
	rs           reedsolomon.Encoder
}

// New creates an Encoder for k data shards and m parity shards.
func New(dataShards, parityShards int) (*Encoder, error) {
	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("redundancy: construct reed-solomon codec: %w", err)
	}
	return &Encoder{dataShards: dataShards, parityShards: parityShards, rs: rs}, nil
}

// DataShards reports k.
func (e *Encoder) DataShards() int { return e.dataShards }

// ParityShards reports m.
func (e *Encoder) ParityShards() int { return e.parityShards }

// Encode takes k equal-length data shards and returns m parity shards, each
// the same length as the data shards.
func (e *Encoder) Encode(dataShards [][]byte) (parityShards [][]byte, err error) {
	if len(dataShards) != e.dataShards {
		return nil, fmt.Errorf("redundancy: expected %d data shards, got %d", e.dataShards, len(dataShards))
	}
	shardSize := len(dataShards[0])
	all := make([][]byte, e.dataShards+e.parityShards)
	copy(all, dataShards)
	for i := e.dataShards; i < len(all); i++ {
		all[i] = make([]byte, shardSize)
	}
	if err := e.rs.Encode(all); err != nil {
		return nil, fmt.Errorf("redundancy: encode: %w", err)
	}
	return all[e.dataShards:], nil
}

// Reconstruct takes a k+m length slice of shards with missing entries set
// to nil, and fills in every missing shard (data or parity) in place. It
// returns ErrTooFewShards if fewer than k shards are present.
func (e *Encoder) Reconstruct(shards [][]byte) error {
	if len(shards) != e.dataShards+e.parityShards {
		return fmt.Errorf("redundancy: expected %d total shards, got %d", e.dataShards+e.parityShards, len(shards))
	}
	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < e.dataShards {
		return ErrTooFewShards
	}
	if err := e.rs.Reconstruct(shards); err != nil {
		return fmt.Errorf("redundancy: reconstruct: %w", err)
	}
	return nil
}

// Verify reports whether the parity shards are consistent with the data
// shards, useful as a cheap integrity check before posting.
func (e *Encoder) Verify(shards [][]byte) (bool, error) {
	ok, err := e.rs.Verify(shards)
	if err != nil {
		return false, fmt.Errorf("redundancy: verify: %w", err)
	}
	return ok, nil
}
