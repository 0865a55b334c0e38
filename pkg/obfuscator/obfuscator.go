// Package obfuscator is the single source of truth for every Usenet-facing
// name this engine generates: internal subjects, posted Usenet subjects,
// message identifiers, and share identifiers. Every other package asks this
// one for names instead of hashing or randomizing its own — the source
// system generated these through several inconsistent code paths, and spec
// compliance depends on a single pure-function obfuscator replacing them
// (spec.md §9 redesign flags).
package obfuscator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// messageIDDomain is fixed so posted articles blend in with the large
// volume of existing ngPost-generated Usenet traffic.
const messageIDDomain = "ngPost.com"

const randomSubjectAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const randomSubjectLength = 20

// shareIDEncoding is RFC 4648 base32 restricted to its standard alphabet;
// Testable Property / Scenario A requires share identifiers to match
// [A-Z2-7]{24}, i.e. standard base32 without padding.
var shareIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// InternalSubject computes the deterministic internal subject for a
// segment: SHA-256(folder_id || file_id || segment_index || folder private
// key), returned as 64 lowercase hex characters. It is recomputable by
// anyone holding the folder's private key and is never transmitted.
func InternalSubject(folderID, fileID string, segmentIndex uint32, folderPrivateKey []byte) string {
	h := sha256.New()
	h.Write([]byte(folderID))
	h.Write([]byte(fileID))
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], segmentIndex)
	h.Write(idxBuf[:])
	h.Write(folderPrivateKey)
	return hex.EncodeToString(h.Sum(nil))
}

// RandomUsenetSubjectToken returns 20 cryptographically random characters
// drawn from [A-Z0-9], used as the opaque core of a posted Subject header.
// It is generated fresh for every post and never stored outside the
// messages table's usenet_subject column.
func RandomUsenetSubjectToken() (string, error) {
	return randomToken(randomSubjectLength, randomSubjectAlphabet)
}

// FormatPostedSubject builds the full Subject header for a posted article:
// "[i/N] <random20> - <filename> [<hash8>]". filename may itself be an
// obfuscated per-share token for private shares (spec.md §4.9: subjects
// never embed folder names, and never embed real filenames for private
// shares).
func FormatPostedSubject(partIndex, totalParts int, randomToken, filename string, contentHash []byte) string {
	hash8 := hex.EncodeToString(contentHash)
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}
	return fmt.Sprintf("[%d/%d] %s - %s [%s]", partIndex, totalParts, randomToken, filename, hash8)
}

// NewMessageID returns a message identifier shaped like
// <16-lowercase-hex@ngPost.com>. Collision probability at 64 bits of
// randomness is negligible for this engine's posting volume; per spec.md
// §4.1 no uniqueness check is performed before use.
func NewMessageID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("obfuscator: generate message id: %w", err)
	}
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(buf[:]), messageIDDomain), nil
}

// NewShareID returns a 24-character base32 share identifier derived from
// random bytes. 24 base32 characters encode 15 bytes (120 bits) exactly
// with no padding, satisfying the spec's [A-Z2-7]{24} shape.
func NewShareID() (string, error) {
	raw := make([]byte, 15)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("obfuscator: generate share id: %w", err)
	}
	id := shareIDEncoding.EncodeToString(raw)
	return id, nil
}

// SharesSubstringWithMessageID reports whether share contains any substring
// of any element of messageIDs as a raw match. It exists purely to support
// the invariant check in tests and storage-layer assertions (spec.md
// Testable Property #4: "Share identifiers contain no substring of any
// message identifier of any segment they reference"); share and message
// IDs are generated independently, so in practice this is always false.
func SharesSubstringWithMessageID(share string, messageIDs []string) bool {
	for _, mid := range messageIDs {
		core := strings.Trim(mid, "<>")
		if strings.Contains(share, core) || strings.Contains(core, share) {
			return true
		}
	}
	return false
}

func randomToken(length int, alphabet string) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("obfuscator: generate random token: %w", err)
	}
	out := make([]byte, length)
	n := len(alphabet)
	for i, b := range raw {
		out[i] = alphabet[int(b)%n]
	}
	return string(out), nil
}
