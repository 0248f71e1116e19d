package adaptive

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLength is the salt length used in passphrase key derivation.
	SaltLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// Argon2id parameters for passphrase derivation.
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// ErrPassphraseTooWeak is returned for passphrases shorter than MinPassphraseLength.
var ErrPassphraseTooWeak = errors.New("adaptive: passphrase too weak (minimum 8 characters)")

// DeriveKey stretches a passphrase into a KeySize key with Argon2id.
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("adaptive: salt must be %d bytes", SaltLength)
	}
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, KeySize), nil
}

// LoadOrCreateSecret reads a secret of the given size from path, creating it
// with random bytes and 0600 permissions when the file does not exist.
func LoadOrCreateSecret(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != size {
			return nil, fmt.Errorf("adaptive: %s holds %d bytes, want %d", path, len(data), size)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("adaptive: read %s: %w", path, err)
	}

	secret := make([]byte, size)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("adaptive: create key directory: %w", err)
	}

	// O_EXCL so two processes racing on first use agree on one secret.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if os.IsExist(err) {
		return LoadOrCreateSecret(path, size)
	}
	if err != nil {
		return nil, fmt.Errorf("adaptive: create %s: %w", path, err)
	}
	if _, err := f.Write(secret); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("adaptive: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return secret, f.Close()
}

// ZeroKey overwrites key material in place.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
