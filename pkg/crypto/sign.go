package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is a folder's or user's Ed25519 signing keypair. The private key
// never leaves the local key store; only PublicKey is ever shared.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair, used both for the
// per-user identity key and the per-folder signing key (spec.md §3, §4.8
// generate_folder_keys).
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, ErrKdfFailed
	}
	return KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// Sign signs message with the keypair's private key.
func (kp KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, message)
}

// Verify checks a signature against a public key and message.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(publicKey, message, signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// X25519KeyPair is a Diffie-Hellman keypair used for private-share key
// wrapping (spec.md §4.8: "X25519 key-agreement between the owner's and the
// user's keys").
type X25519KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// GenerateX25519KeyPair creates a fresh X25519 keypair.
func GenerateX25519KeyPair() (X25519KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return X25519KeyPair{}, ErrKdfFailed
	}
	// Clamp per RFC 7748.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return X25519KeyPair{}, ErrKdfFailed
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	return X25519KeyPair{PublicKey: pubArr, PrivateKey: priv}, nil
}

// SharedSecret computes the X25519 shared secret between this keypair's
// private key and a peer's public key. The raw ECDH output must be run
// through DeriveSubkey (or DeriveShareKey) before use as an AEAD key —
// it is not itself uniformly random.
func (kp X25519KeyPair) SharedSecret(peerPublicKey [32]byte) ([32]byte, error) {
	secret, err := curve25519.X25519(kp.PrivateKey[:], peerPublicKey[:])
	var out [32]byte
	if err != nil {
		return out, ErrKdfFailed
	}
	copy(out[:], secret)
	return out, nil
}

// There is no Ed25519-to-X25519 conversion: this engine generates a dedicated
// X25519 keypair per user rather than converting the Ed25519 identity key,
// avoiding the well-known pitfalls of birational Edwards/Montgomery
// conversion when the private key material is also reused for signing.
