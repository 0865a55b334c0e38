package crypto

import "errors"

// ============================================================================
// Crypto Errors
// ============================================================================

// These map onto the CryptoError taxonomy: a crypto failure is never
// recovered locally, it aborts the calling operation and is surfaced to the
// component boundary (folder indexing, share creation, segment decryption).

var (
	// ErrKeyNotFound indicates the requested key material is absent from
	// the local key store.
	ErrKeyNotFound = errors.New("crypto: key not found")

	// ErrAuthTagMismatch indicates AEAD decryption failed authentication.
	// Ciphertext, nonce, or associated data has been tampered with or the
	// wrong key was used. Never retried.
	ErrAuthTagMismatch = errors.New("crypto: authentication tag mismatch")

	// ErrKdfFailed indicates a key-derivation step (HKDF or Argon2id)
	// failed, e.g. because the derived key length is invalid.
	ErrKdfFailed = errors.New("crypto: key derivation failed")

	// ErrInvalidKeySize indicates a key of the wrong length was supplied
	// to an AEAD or signing primitive.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrInvalidNonceSize indicates a nonce of the wrong length was
	// supplied to the AEAD primitive.
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")

	// ErrSignatureInvalid indicates Ed25519 signature verification failed.
	ErrSignatureInvalid = errors.New("crypto: signature verification failed")
)
