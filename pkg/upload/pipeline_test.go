package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/storage"
	"github.com/kraklabs/usenetsync/pkg/yenc"
)

func TestCompressSegmentSkipsIncompressibleData(t *testing.T) {
	random := make([]byte, 4096)
	x := uint32(17)
	for i := range random {
		x = x*1664525 + 1013904223
		random[i] = byte(x >> 24)
	}

	out, err := compressSegment(random)
	if err != nil {
		t.Fatalf("compressSegment: %v", err)
	}
	if out[0] != flagRaw {
		t.Fatalf("expected random data to skip compression, got flag %d", out[0])
	}
}

func TestCompressSegmentCompressesRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("usenetsync"), 4096)

	out, err := compressSegment(data)
	if err != nil {
		t.Fatalf("compressSegment: %v", err)
	}
	if out[0] != flagZstd {
		t.Fatalf("expected repetitive data to compress, got flag %d", out[0])
	}
	if len(out)-1 >= len(data) {
		t.Fatal("expected compressed output to be smaller than input")
	}
}

func TestEncryptSegmentRoundTrip(t *testing.T) {
	var key crypto.AEADKey
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	var nonce crypto.AEADNonce
	copy(nonce[:], []byte("0123456789abcdef01234567"))

	file := storage.File{ID: "file-1", EncryptionKey: key[:]}
	segment := storage.Segment{ID: "segment-1", Nonce: nonce[:]}

	flagged := append([]byte{flagRaw}, []byte("hello segment")...)
	ciphertext, err := encryptSegment(flagged, file, segment)
	if err != nil {
		t.Fatalf("encryptSegment: %v", err)
	}

	plain, err := crypto.Decrypt(key, nonce, ciphertext, []byte(segment.ID))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain, flagged) {
		t.Fatal("decrypted bytes do not match the flagged plaintext that was encrypted")
	}
}

func TestEncryptSegmentFailsWithWrongAAD(t *testing.T) {
	var key crypto.AEADKey
	copy(key[:], []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	var nonce crypto.AEADNonce
	copy(nonce[:], []byte("aaaaaaaaaaaaaaaaaaaaaaaa"))

	file := storage.File{ID: "file-1", EncryptionKey: key[:]}
	segment := storage.Segment{ID: "segment-1", Nonce: nonce[:]}

	ciphertext, err := encryptSegment([]byte{flagRaw, 'x'}, file, segment)
	if err != nil {
		t.Fatalf("encryptSegment: %v", err)
	}

	if _, err := crypto.Decrypt(key, nonce, ciphertext, []byte("segment-2")); err == nil {
		t.Fatal("expected decryption to fail under a different segment id as AAD")
	}
}

func TestBuildSegmentArticleProducesPostableArticle(t *testing.T) {
	dir := t.TempDir()

	var key crypto.AEADKey
	copy(key[:], []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	var nonce crypto.AEADNonce
	copy(nonce[:], []byte("bbbbbbbbbbbbbbbbbbbbbbbb"))

	segment := storage.Segment{
		ID:              "segment-42",
		SegmentIndex:    0,
		ContentHash:     "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		Nonce:           nonce[:],
	}
	file := storage.File{
		ID:            "file-42",
		RelativePath:  "notes/todo.txt",
		TotalSegments: 1,
		EncryptionKey: key[:],
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(filepath.Join(dir, segment.ID+".seg"), plaintext, 0o600); err != nil {
		t.Fatalf("write staged segment: %v", err)
	}

	article, messageID, subject, err := buildSegmentArticle(dir, "alt.binaries.test", segment, file)
	if err != nil {
		t.Fatalf("buildSegmentArticle: %v", err)
	}

	if !bytes.Contains(article, []byte("Newsgroups: alt.binaries.test\r\n")) {
		t.Fatal("expected article to carry the configured newsgroup")
	}
	if !bytes.Contains(article, []byte("Message-ID: "+messageID)) {
		t.Fatal("expected article to carry the generated message id")
	}
	if !bytes.Contains(article, []byte("Subject: "+subject)) {
		t.Fatal("expected article to carry the formatted subject")
	}

	headerEnd := bytes.Index(article, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		t.Fatal("expected a blank line separating headers from body")
	}
	body := article[headerEnd+4:]
	decoded, _, err := yenc.Decode(body)
	if err != nil {
		t.Fatalf("yenc.Decode: %v", err)
	}

	flagged, err := crypto.Decrypt(key, nonce, decoded, []byte(segment.ID))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if flagged[0] != flagRaw && flagged[0] != flagZstd {
		t.Fatalf("unexpected compression flag %d", flagged[0])
	}
}
