package storage

import (
	"fmt"

	"github.com/yndnr/sessionkeep-go/pkg/crypto/adaptive"
)

// SealConfig selects where sealing key material comes from.
// Passphrase takes precedence over KeyFile.
type SealConfig struct {
	// KeyFile holds a random 32-byte key, created 0600 on first use.
	KeyFile string

	// Passphrase is stretched with Argon2id using the salt in SaltFile.
	Passphrase string

	// SaltFile holds the Argon2id salt, created on first use.
	SaltFile string
}

// LoadOrCreateKey reads the sealing key at path, generating it on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	return adaptive.LoadOrCreateSecret(path, adaptive.KeySize)
}

// PassphraseKey derives the sealing key from a passphrase and the salt
// stored at saltPath.
func PassphraseKey(passphrase, saltPath string) ([]byte, error) {
	salt, err := adaptive.LoadOrCreateSecret(saltPath, adaptive.SaltLength)
	if err != nil {
		return nil, err
	}
	return adaptive.DeriveKey([]byte(passphrase), salt)
}

// NewCipher builds the cipher described by cfg.
func NewCipher(cfg SealConfig) (adaptive.Cipher, error) {
	var (
		key []byte
		err error
	)
	switch {
	case cfg.Passphrase != "":
		if cfg.SaltFile == "" {
			return nil, fmt.Errorf("storage: passphrase sealing needs a salt file")
		}
		key, err = PassphraseKey(cfg.Passphrase, cfg.SaltFile)
	case cfg.KeyFile != "":
		key, err = LoadOrCreateKey(cfg.KeyFile)
	default:
		return nil, fmt.Errorf("storage: sealing needs a key file or a passphrase")
	}
	if err != nil {
		return nil, fmt.Errorf("storage: sealing key: %w", err)
	}
	defer adaptive.ZeroKey(key)

	return adaptive.New(key)
}
