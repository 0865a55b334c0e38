package download

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/yenc"
)

// flagRaw and flagZstd mirror pkg/upload's compression envelope: the first
// byte of the AEAD plaintext names which path the uploader took, so a
// download never has to guess.
const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

// decodeSegmentArticle reverses buildSegmentArticle: split headers from
// the yEnc body, decode it, decrypt under the file's key and the
// segment's stored nonce with the segment ID as AAD, then reverse
// whichever compression path the leading flag byte names.
func decodeSegmentArticle(article []byte, segment storage.Segment, file storage.File) ([]byte, error) {
	headerEnd := bytes.Index(article, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, fmt.Errorf("download: article for segment %s has no header/body boundary", segment.ID)
	}
	body := article[headerEnd+4:]

	ciphertext, _, err := yenc.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("download: yenc decode segment %s: %w", segment.ID, err)
	}

	if len(file.EncryptionKey) != crypto.KeySize {
		return nil, fmt.Errorf("download: file %s has no usable encryption key", file.ID)
	}
	if len(segment.Nonce) != crypto.NonceSize {
		return nil, fmt.Errorf("download: segment %s has no usable nonce", segment.ID)
	}
	var key crypto.AEADKey
	copy(key[:], file.EncryptionKey)
	var nonce crypto.AEADNonce
	copy(nonce[:], segment.Nonce)

	flagged, err := crypto.Decrypt(key, nonce, ciphertext, []byte(segment.ID))
	if err != nil {
		return nil, fmt.Errorf("download: decrypt segment %s: %w", segment.ID, err)
	}
	if len(flagged) == 0 {
		return nil, fmt.Errorf("download: segment %s decrypted to an empty envelope", segment.ID)
	}

	flag, payload := flagged[0], flagged[1:]
	switch flag {
	case flagRaw:
		return payload, nil
	case flagZstd:
		return decompressSegment(payload)
	default:
		return nil, fmt.Errorf("download: segment %s has unrecognized compression flag %d", segment.ID, flag)
	}
}

func decompressSegment(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("download: build zstd reader: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("download: zstd decompress: %w", err)
	}
	return out, nil
}

// writeStagedSegment writes a reconstructed plaintext segment to
// destDir/<fileID>/<segmentIndex>.seg, creating the per-file directory as
// needed. pkg/reassemble later reads these back in index order.
func writeStagedSegment(destDir, fileID string, segmentIndex int, plaintext []byte) error {
	dir := filepath.Join(destDir, fileID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("download: create staging dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, strconv.Itoa(segmentIndex)+".seg")
	if err := os.WriteFile(path, plaintext, 0o600); err != nil {
		return fmt.Errorf("download: write staged segment %s: %w", path, err)
	}
	return nil
}
