package keymanager

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/usenetsync/pkg/crypto"
)

// masterKeyFileMode restricts the on-disk master key to owner read/write;
// it decrypts every folder's private key, so a wider mode would leak the
// whole account to any local user.
const masterKeyFileMode = 0o600

// GenerateMasterKeyFile writes a fresh random master key to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func GenerateMasterKeyFile(path string) (crypto.AEADKey, error) {
	var key crypto.AEADKey
	if _, err := os.Stat(path); err == nil {
		return key, fmt.Errorf("keymanager: master key file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return key, fmt.Errorf("keymanager: create master key directory: %w", err)
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("keymanager: generate master key: %w", err)
	}

	if err := os.WriteFile(path, key[:], masterKeyFileMode); err != nil {
		return key, fmt.Errorf("keymanager: write master key file: %w", err)
	}
	return key, nil
}

// LoadMasterKeyFile reads a master key previously written by
// GenerateMasterKeyFile.
func LoadMasterKeyFile(path string) (crypto.AEADKey, error) {
	var key crypto.AEADKey
	data, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("keymanager: read master key file: %w", err)
	}
	if len(data) != crypto.KeySize {
		return key, fmt.Errorf("keymanager: master key file %s has wrong length %d, want %d", path, len(data), crypto.KeySize)
	}
	copy(key[:], data)
	return key, nil
}
