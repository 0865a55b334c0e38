// Package segment splits file content into fixed-size segments, the unit
// this engine compresses, encrypts, redundancy-encodes, and posts as one
// Usenet article each.
package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Size is the fixed segment size in bytes (768,000, per spec.md §4.3).
const Size = 768_000

// Descriptor describes one segment of a file: its index, byte range, and
// content hash. RedundancyIndex is 0 for primary (data) segments; parity
// segments produced by pkg/redundancy carry RedundancyIndex >= 1 and take
// the Index values after the file's last primary segment.
type Descriptor struct {
	Index           int
	OffsetStart     int64
	OffsetEnd       int64 // exclusive
	Size            int64
	ContentHash     string // 64 lowercase hex characters, sha256 of plaintext bytes
	RedundancyIndex int
}

// Split reads all of r and returns the eagerly-materialized segments as
// (descriptor, plaintext) pairs. An empty input produces zero segments. A
// file whose size is an exact multiple of Size produces segments whose
// final OffsetEnd equals the file size exactly, with no trailing empty
// segment. A file one byte larger than a multiple of Size produces one
// additional segment of size 1.
func Split(r io.Reader) ([]Descriptor, [][]byte, error) {
	var descriptors []Descriptor
	var payloads [][]byte

	buf := make([]byte, Size)
	var offset int64
	index := 0

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sum := sha256.Sum256(chunk)

			descriptors = append(descriptors, Descriptor{
				Index:       index,
				OffsetStart: offset,
				OffsetEnd:   offset + int64(n),
				Size:        int64(n),
				ContentHash: hex.EncodeToString(sum[:]),
			})
			payloads = append(payloads, chunk)

			offset += int64(n)
			index++
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if n < Size {
			break
		}
	}

	return descriptors, payloads, nil
}

// StreamFunc is called once per segment as Stream reads through r, in
// order, without holding the whole file or the whole segment list in
// memory at once.
type StreamFunc func(Descriptor, []byte) error

// Stream reads r and invokes fn once per segment in order, releasing each
// segment's buffer before reading the next. Useful for large files where
// Split's eager materialization would hold the whole file in memory.
func Stream(r io.Reader, fn StreamFunc) error {
	buf := make([]byte, Size)
	var offset int64
	index := 0

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			desc := Descriptor{
				Index:       index,
				OffsetStart: offset,
				OffsetEnd:   offset + int64(n),
				Size:        int64(n),
				ContentHash: hex.EncodeToString(sum[:]),
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if callErr := fn(desc, chunk); callErr != nil {
				return callErr
			}
			offset += int64(n)
			index++
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n < Size {
			return nil
		}
	}
}
