package upload

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/usenetsync/pkg/bufpool"
	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/obfuscator"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/yenc"
)

// compressionSkipRatio is the spec's threshold (spec.md §4.3): if zstd
// shrinks a segment to less than 95% of its original size it's worth
// keeping; otherwise the compression step is skipped and the segment is
// encrypted raw, since spending CPU and an extra framing byte on
// already-dense data (media, already-compressed archives) buys nothing.
const compressionSkipRatio = 0.95

const (
	flagRaw  byte = 0x00
	flagZstd byte = 0x01
)

// loadSegmentPlaintext reads a staged segment's plaintext bytes, written by
// the ingest stage before the corresponding upload_queue_entries row was
// created. Segments are a fixed size (pkg/segment.Size), so every read
// lands in bufpool's large tier and reuses the same backing arrays across
// workers instead of allocating one fresh slice per posted segment. The
// returned release func must be called once the caller is done reading the
// bytes.
func loadSegmentPlaintext(stagingDir, segmentID string) (data []byte, release func(), err error) {
	path := filepath.Join(stagingDir, segmentID+".seg")
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("upload: read staged segment %s: %w", segmentID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("upload: stat staged segment %s: %w", segmentID, err)
	}

	buf := bufpool.Get(int(info.Size()))
	if _, err := io.ReadFull(f, buf); err != nil {
		bufpool.Put(buf)
		return nil, nil, fmt.Errorf("upload: read staged segment %s: %w", segmentID, err)
	}
	return buf, func() { bufpool.Put(buf) }, nil
}

// compressSegment zstd-compresses data, prefixing a one-byte flag so the
// download side knows whether to reverse it. It returns the raw input
// (flagged) unchanged if compression doesn't clear compressionSkipRatio.
func compressSegment(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("upload: build zstd encoder: %w", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(data, nil)
	if len(data) > 0 && float64(len(compressed))/float64(len(data)) <= compressionSkipRatio {
		return append([]byte{flagZstd}, compressed...), nil
	}
	return append([]byte{flagRaw}, data...), nil
}

// encryptSegment seals flagged, compressed (or raw) segment bytes under the
// file's per-file key and the segment's stored nonce, binding the segment
// ID as associated data so a ciphertext can never be replayed under a
// different segment's identity.
func encryptSegment(flagged []byte, file storage.File, segment storage.Segment) ([]byte, error) {
	var key crypto.AEADKey
	if len(file.EncryptionKey) != crypto.KeySize {
		return nil, fmt.Errorf("upload: file %s has no encryption key", file.ID)
	}
	copy(key[:], file.EncryptionKey)

	var nonce crypto.AEADNonce
	if len(segment.Nonce) != crypto.NonceSize {
		return nil, fmt.Errorf("upload: segment %s has no nonce", segment.ID)
	}
	copy(nonce[:], segment.Nonce)

	return crypto.Encrypt(key, nonce, flagged, []byte(segment.ID)), nil
}

// buildSegmentArticle runs load -> compress -> encrypt -> yEnc-wrap and
// assembles the final NNTP article bytes (headers, blank line, yEnc body),
// returning the article alongside the message ID and subject it was posted
// under so the caller can record a storage.Message row.
func buildSegmentArticle(stagingDir, newsgroup string, segment storage.Segment, file storage.File) (article []byte, messageID, subject string, err error) {
	plaintext, release, err := loadSegmentPlaintext(stagingDir, segment.ID)
	if err != nil {
		return nil, "", "", err
	}
	defer release()

	flagged, err := compressSegment(plaintext)
	if err != nil {
		return nil, "", "", err
	}

	ciphertext, err := encryptSegment(flagged, file, segment)
	if err != nil {
		return nil, "", "", err
	}

	token, err := obfuscator.RandomUsenetSubjectToken()
	if err != nil {
		return nil, "", "", fmt.Errorf("upload: subject token: %w", err)
	}
	hash, err := hex.DecodeString(segment.ContentHash)
	if err != nil {
		return nil, "", "", fmt.Errorf("upload: decode content hash: %w", err)
	}
	subject = obfuscator.FormatPostedSubject(segment.SegmentIndex+1, file.TotalSegments, token, file.RelativePath, hash)

	messageID, err = obfuscator.NewMessageID()
	if err != nil {
		return nil, "", "", fmt.Errorf("upload: message id: %w", err)
	}

	yencBody := yenc.Encode(ciphertext, file.RelativePath, segment.SegmentIndex+1, file.TotalSegments)
	article = buildArticle(newsgroup, messageID, subject, yencBody)
	return article, messageID, subject, nil
}

// postFrom mimics the From header ngPost-generated traffic carries, so
// posted articles don't stand out from the background of the newsgroups
// they're posted to (see pkg/obfuscator's messageIDDomain).
const postFrom = "poster@ngPost.com"

func buildArticle(newsgroup, messageID, subject string, yencBody []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", postFrom)
	fmt.Fprintf(&buf, "Newsgroups: %s\r\n", newsgroup)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	buf.WriteString("\r\n")
	buf.Write(yencBody)
	return buf.Bytes()
}
