// Package keymanager generates and stores per-folder Ed25519 keypairs,
// encrypted at rest under a user's master key (spec.md §4.8
// generate_folder_keys / save_folder_keys / load_folder_keys). The folder's
// private key signs every internal subject derivation (pkg/obfuscator) and
// every index article it publishes; nothing ever transmits it.
package keymanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/kraklabs/usenetsync/pkg/crypto"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// ErrNoCanonicalRow is returned when a folder has zero or more than one
// keys row, a state save_folder_keys's upsert is designed to make
// unreachable in normal operation but that load can still detect.
var ErrNoCanonicalRow = errors.New("keymanager: folder has no canonical key row")

// Manager derives, persists, and loads folder keypairs.
type Manager struct {
	engine storage.Engine
}

// New builds a Manager over engine.
func New(engine storage.Engine) *Manager {
	return &Manager{engine: engine}
}

// GenerateFolderKeys creates a fresh Ed25519 keypair for folderID, seals the
// private key under masterKey, and upserts the single canonical
// storage.Folder row for that folder (by folder_id, the row's primary key),
// so repeated calls replace rather than duplicate it.
func (m *Manager) GenerateFolderKeys(ctx context.Context, folderID string, masterKey crypto.AEADKey, folder *storage.Folder) error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("keymanager: generate folder keypair: %w", err)
	}

	nonce, err := crypto.NewNonce()
	if err != nil {
		return fmt.Errorf("keymanager: nonce: %w", err)
	}

	aad := []byte(folderID)
	encrypted := crypto.Encrypt(masterKey, nonce, kp.PrivateKey, aad)

	folder.ID = folderID
	folder.PublicKey = kp.PublicKey
	folder.EncryptedKey = encrypted
	folder.KeyNonce = nonce[:]
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now()
	}
	folder.UpdatedAt = time.Now()

	return m.engine.Upsert(ctx, folder, []string{"id"})
}

// LoadFolderKeys fetches folderID's canonical row and decrypts its private
// key under masterKey.
func (m *Manager) LoadFolderKeys(ctx context.Context, folderID string, masterKey crypto.AEADKey) (crypto.KeyPair, error) {
	var rows []storage.Folder
	if err := m.engine.FetchAll(ctx, &rows, "SELECT * FROM folders WHERE id = ?", folderID); err != nil {
		return crypto.KeyPair{}, fmt.Errorf("keymanager: fetch folder: %w", err)
	}
	if len(rows) != 1 {
		return crypto.KeyPair{}, ErrNoCanonicalRow
	}
	folder := rows[0]

	var nonce crypto.AEADNonce
	if len(folder.KeyNonce) != crypto.NonceSize {
		return crypto.KeyPair{}, fmt.Errorf("keymanager: stored nonce has wrong length %d", len(folder.KeyNonce))
	}
	copy(nonce[:], folder.KeyNonce)

	privKey, err := crypto.Decrypt(masterKey, nonce, folder.EncryptedKey, []byte(folderID))
	if err != nil {
		return crypto.KeyPair{}, fmt.Errorf("keymanager: decrypt folder key: %w", err)
	}

	return crypto.KeyPair{
		PublicKey:  ed25519.PublicKey(folder.PublicKey),
		PrivateKey: ed25519.PrivateKey(privKey),
	}, nil
}

// NewFolderID returns a fresh 32-byte folder identifier, hex-encoded to
// match storage.Folder.ID's 64-hex column. Obfuscated, Usenet-facing names
// are derived from it separately by pkg/obfuscator; the identifier itself
// never appears on the wire.
func NewFolderID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keymanager: generate folder id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
