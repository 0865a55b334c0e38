// Package access implements share-access control: the three access modes a
// Publication can use (public, protected, private) and the zero-knowledge
// commitment scheme that lets a private share authorize specific
// recipients without the share identifier itself revealing who they are
// (spec.md §4.1, §4.8).
//
// A private share wraps its session key once per authorized recipient
// using X25519 key agreement (an ephemeral keypair generated per
// commitment, so distinct commitments for the same recipient are
// unlinkable to each other), then derives the wrapping key via HKDF. Proof
// of access is a Schnorr-style signature: Ed25519 already is a Schnorr
// signature over the Edwards curve, so a recipient proves control of their
// identity key by signing a server-issued challenge rather than by a
// separately-implemented sigma protocol.
package access

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// Mode is a Publication's access control scheme.
type Mode string

const (
	ModePublic    Mode = "public"
	ModeProtected Mode = "protected"
	ModePrivate   Mode = "private"
)

// ErrUnwrapFailed means a recipient's X25519 key could not open a
// commitment's wrapped session key (wrong recipient, or corrupted row).
var ErrUnwrapFailed = errors.New("access: failed to unwrap session key")

// saltSize is the length of a commitment's random salt.
const saltSize = 16

// wrapInfo binds HKDF derivation to "usenetsync share key wrap" so the same
// shared secret never yields the same derived key for any other purpose.
var wrapInfo = []byte("usenetsync share key wrap v1")

// CreateCommitment builds one recipient's access commitment for a private
// share: an ephemeral X25519 keypair agrees with the recipient's long-term
// X25519 public key, and the resulting shared secret (after HKDF) wraps
// sessionKey. userID is hashed with a fresh salt rather than stored
// directly, so a commitment row doesn't itself reveal which user it
// belongs to to anyone but that user.
func CreateCommitment(userID string, recipientPublicKey [32]byte, sessionKey crypto.AEADKey) (storage.UserCommitment, error) {
	ephemeral, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return storage.UserCommitment{}, fmt.Errorf("access: ephemeral keypair: %w", err)
	}

	shared, err := ephemeral.SharedSecret(recipientPublicKey)
	if err != nil {
		return storage.UserCommitment{}, fmt.Errorf("access: key agreement: %w", err)
	}

	salt, err := crypto.NewSalt(saltSize)
	if err != nil {
		return storage.UserCommitment{}, err
	}

	var sharedKey crypto.AEADKey
	copy(sharedKey[:], shared[:])
	wrapKey, err := crypto.DeriveShareKey(sharedKey, salt, wrapInfo)
	if err != nil {
		return storage.UserCommitment{}, err
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return storage.UserCommitment{}, err
	}
	wrapped := crypto.Encrypt(wrapKey, nonce, sessionKey[:], []byte(userID))

	commitmentHash := sha256.Sum256(append([]byte(userID), salt...))

	return storage.UserCommitment{
		CommitmentHash:     commitmentHash[:],
		Salt:               salt,
		VerificationKey:    recipientPublicKey[:],
		WrappedSessionKey:  wrapped,
		WrapNonce:          nonce[:],
		EphemeralPublicKey: ephemeral.PublicKey[:],
		CreatedAt:          time.Now(),
	}, nil
}

// UnwrapSessionKey recovers the session key sealed in commitment for a
// recipient holding recipientKey, the X25519 keypair whose public half
// matches commitment.VerificationKey.
func UnwrapSessionKey(recipientKey crypto.X25519KeyPair, userID string, commitment storage.UserCommitment) (crypto.AEADKey, error) {
	var ephemeralPub [32]byte
	if len(commitment.EphemeralPublicKey) != 32 {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}
	copy(ephemeralPub[:], commitment.EphemeralPublicKey)

	shared, err := recipientKey.SharedSecret(ephemeralPub)
	if err != nil {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}

	var sharedKey crypto.AEADKey
	copy(sharedKey[:], shared[:])
	wrapKey, err := crypto.DeriveShareKey(sharedKey, commitment.Salt, wrapInfo)
	if err != nil {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}

	var nonce crypto.AEADNonce
	if len(commitment.WrapNonce) != crypto.NonceSize {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}
	copy(nonce[:], commitment.WrapNonce)

	plain, err := crypto.Decrypt(wrapKey, nonce, commitment.WrappedSessionKey, []byte(userID))
	if err != nil {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}
	if len(plain) != crypto.KeySize {
		return crypto.AEADKey{}, ErrUnwrapFailed
	}

	var sessionKey crypto.AEADKey
	copy(sessionKey[:], plain)
	return sessionKey, nil
}

// MatchesCommitment reports whether userID and salt hash to
// commitment.CommitmentHash, letting a server locate the right commitment
// row for a claimed user without storing the user ID in the clear.
func MatchesCommitment(userID string, commitment storage.UserCommitment) bool {
	got := sha256.Sum256(append([]byte(userID), commitment.Salt...))
	if len(got) != len(commitment.CommitmentHash) {
		return false
	}
	var diff byte
	for i := range got {
		diff |= got[i] ^ commitment.CommitmentHash[i]
	}
	return diff == 0
}

// challengeInfo domain-separates access proofs from any other Ed25519
// signature this engine produces.
var challengeInfo = []byte("usenetsync access proof v1")

// SignAccessProof proves control of identity's private key over challenge,
// the Schnorr-style knowledge proof a private-share recipient presents to
// the owner (or a relay) without revealing anything beyond "I hold this
// key".
func SignAccessProof(identity crypto.KeyPair, challenge []byte) []byte {
	return identity.Sign(append(challengeInfo, challenge...))
}

// VerifyAccessProof checks a proof produced by SignAccessProof.
func VerifyAccessProof(publicKey ed25519.PublicKey, challenge, proof []byte) error {
	return crypto.Verify(publicKey, append(challengeInfo, challenge...), proof)
}
