package redundancy

// PadShards copies shards into equal-length buffers as long as the longest
// shard, zero-padding every shorter one. The original lengths are
// returned so a caller can truncate back to them after Reconstruct.
//
// Segments within one file are Size bytes except for the last, which may
// be shorter; Reed-Solomon requires every shard to be the same length, so
// the short final segment is padded up to match its siblings before
// encoding and truncated back down after reconstruction.
func PadShards(shards [][]byte) (padded [][]byte, lengths []int) {
	maxLen := 0
	for _, s := range shards {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	padded = make([][]byte, len(shards))
	lengths = make([]int, len(shards))
	for i, s := range shards {
		lengths[i] = len(s)
		buf := make([]byte, maxLen)
		copy(buf, s)
		padded[i] = buf
	}
	return padded, lengths
}

// Truncate restores each shard in padded to its original length.
func Truncate(padded [][]byte, lengths []int) [][]byte {
	out := make([][]byte, len(padded))
	for i, s := range padded {
		if s == nil {
			out[i] = nil
			continue
		}
		if i < len(lengths) && lengths[i] < len(s) {
			out[i] = s[:lengths[i]]
		} else {
			out[i] = s
		}
	}
	return out
}
