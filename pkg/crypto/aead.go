// Package crypto provides the cryptographic primitives the rest of the
// engine builds on: AEAD encryption, Ed25519 signing, X25519 key agreement,
// HKDF and Argon2id key derivation, and Merkle tree hashing.
//
// Every primitive here is a thin, well-documented wrapper around
// golang.org/x/crypto and the standard library; no cryptography is
// hand-rolled. Failures are always surfaced as typed errors (see errors.go)
// and never silently retried — a caller that gets ErrAuthTagMismatch has a
// tampered or misencrypted segment, not a transient fault.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the size in bytes of an AEAD key (256 bits).
const KeySize = 32

// NonceSize is the size in bytes of an AEAD nonce.
//
// secretbox uses a 24-byte (192-bit) nonce rather than the 96-bit nonce a
// block-cipher AEAD like AES-GCM would use; it is large enough to be chosen
// at random for every segment without a meaningful collision risk, which
// keeps the per-segment nonce generation in pkg/segment simple (no counter
// state to persist across restarts).
const NonceSize = 24

// overhead is the size in bytes secretbox appends for its Poly1305 tag.
const overhead = secretbox.Overhead

// AEADKey is a 256-bit symmetric key used for segment and index encryption.
type AEADKey [KeySize]byte

// AEADNonce is the per-message nonce for AEADKey.
type AEADNonce [NonceSize]byte

// NewNonce returns a fresh, cryptographically random nonce. Every segment
// and every index article is encrypted with its own nonce; nonces are never
// reused under the same key.
func NewNonce() (AEADNonce, error) {
	var n AEADNonce
	if _, err := rand.Read(n[:]); err != nil {
		return n, ErrKdfFailed
	}
	return n, nil
}

// Encrypt seals plaintext under key and nonce, authenticating aad
// (associated data) without encrypting it. aad may be nil.
//
// The spec's AEAD contract is aead_encrypt(key, nonce, plaintext, aad) ->
// (ciphertext, tag); secretbox.Seal appends the tag to the ciphertext, so
// the returned slice already carries both.
func Encrypt(key AEADKey, nonce AEADNonce, plaintext, aad []byte) []byte {
	// secretbox has no native AAD parameter; bind aad by prefixing it to the
	// plaintext under a length-prefixed framing, then encrypting as one
	// message. The framing is reversed and verified on decrypt, so any aad
	// tampering still fails as a tag mismatch rather than silently passing.
	framed := frameAAD(aad, plaintext)
	sealed := secretbox.Seal(nil, framed, (*[24]byte)(&nonce), (*[32]byte)(&key))
	return sealed
}

// Decrypt opens ciphertext sealed by Encrypt under key, nonce, and aad.
// Returns ErrAuthTagMismatch if authentication fails for any reason
// (wrong key, wrong nonce, tampered ciphertext, or mismatched aad).
func Decrypt(key AEADKey, nonce AEADNonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < overhead {
		return nil, ErrAuthTagMismatch
	}
	framed, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, ErrAuthTagMismatch
	}
	plaintext, ok := unframeAAD(aad, framed)
	if !ok {
		return nil, ErrAuthTagMismatch
	}
	return plaintext, nil
}

// frameAAD prepends a big-endian uint32 length and the aad bytes to
// plaintext so the sealed message binds both.
func frameAAD(aad, plaintext []byte) []byte {
	out := make([]byte, 4+len(aad)+len(plaintext))
	putUint32(out[:4], uint32(len(aad)))
	copy(out[4:4+len(aad)], aad)
	copy(out[4+len(aad):], plaintext)
	return out
}

// unframeAAD reverses frameAAD and checks the embedded aad matches the
// expected aad exactly.
func unframeAAD(expectedAAD, framed []byte) ([]byte, bool) {
	if len(framed) < 4 {
		return nil, false
	}
	n := getUint32(framed[:4])
	if uint64(n) > uint64(len(framed)-4) {
		return nil, false
	}
	gotAAD := framed[4 : 4+n]
	if !constantTimeEqual(gotAAD, expectedAAD) {
		return nil, false
	}
	return framed[4+n:], true
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
