package crypto

import "crypto/sha256"

// MerkleRoot computes the root of a binary Merkle tree over leaf hashes,
// per spec.md §4.1 "merkle_root(hashes)". Each level pairs adjacent hashes
// and hashes their concatenation with SHA-256; if a level has an odd number
// of elements, the last element is duplicated to pair with itself. An empty
// input returns the zero hash.
func MerkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var buf [64]byte
			copy(buf[:32], level[i][:])
			copy(buf[32:], level[i+1][:])
			next = append(next, sha256.Sum256(buf[:]))
		}
		level = next
	}
	return level[0]
}

// HashLeaf hashes a single segment's plaintext (or ciphertext, depending on
// the caller's integrity boundary) into a Merkle leaf.
func HashLeaf(data []byte) [32]byte {
	return sha256.Sum256(data)
}
