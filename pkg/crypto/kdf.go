package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2Params controls the Argon2id password KDF used for protected
// shares. Defaults match spec.md §4.1: 3 iterations, 64 MiB, 4 lanes.
type Argon2Params struct {
	Time    uint32
	MemoryKiB uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultArgon2Params returns the spec-mandated default tuning.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      3,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		KeyLen:    KeySize,
	}
}

// NewSalt returns fresh random salt bytes of the given length.
func NewSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, ErrKdfFailed
	}
	return salt, nil
}

// DeriveProtectedKey derives a share session key from a password and salt
// using Argon2id, per spec.md "derive_protected_key(password, salt, params)".
func DeriveProtectedKey(password string, salt []byte, params Argon2Params) AEADKey {
	raw := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLen)
	var key AEADKey
	copy(key[:], raw)
	return key
}

// DeriveShareKey derives a session key from a master key and salt via
// HKDF-SHA256, per spec.md "derive_share_key(master, salt)". info binds the
// derivation to its purpose (e.g. the share identifier) so the same master
// key never yields the same derived key for two different shares.
func DeriveShareKey(master AEADKey, salt, info []byte) (AEADKey, error) {
	r := hkdf.New(sha256.New, master[:], salt, info)
	var key AEADKey
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return AEADKey{}, ErrKdfFailed
	}
	return key, nil
}

// DeriveSubkey derives an arbitrary-length subkey from a master key via
// HKDF-SHA256. Used to derive per-file encryption keys from the per-folder
// key without storing them separately.
func DeriveSubkey(master AEADKey, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, master[:], salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrKdfFailed
	}
	return out, nil
}
