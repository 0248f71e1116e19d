package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// KeySize is the key length accepted by every cipher in this package.
const KeySize = 32

// Algorithm tags written in front of each ciphertext.
const (
	tagAESGCM   byte = 0x01
	tagChaCha20 byte = 0x02
)

var (
	// ErrInvalidKeySize is returned for keys that are not KeySize bytes.
	ErrInvalidKeySize = errors.New("adaptive: key must be 32 bytes")

	// ErrCiphertextTooShort is returned when input is shorter than tag+nonce+overhead.
	ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

	// ErrUnknownAlgorithm is returned when the ciphertext tag is not recognised.
	ErrUnknownAlgorithm = errors.New("adaptive: unknown algorithm tag")
)

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher used for new ciphertexts.
	Type() CipherType

	// Encrypt encrypts plaintext with additional data.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt decrypts ciphertext produced by any cipher in this package
	// sharing the same key.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
}

// New creates a new adaptive cipher with the given key.
//
// It automatically selects the optimal algorithm based on hardware.
func New(key []byte) (Cipher, error) {
	if hasAESNI() {
		return NewWithType(key, CipherAESGCM)
	}
	return NewWithType(key, CipherChaCha20)
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	var tag byte
	switch cipherType {
	case CipherAESGCM:
		tag = tagAESGCM
	case CipherChaCha20:
		tag = tagChaCha20
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", cipherType)
	}

	k := make([]byte, KeySize)
	copy(k, key)
	return &aeadCipher{key: k, tag: tag, typ: cipherType}, nil
}

// hasAESNI checks if AES-NI hardware acceleration is available.
// On amd64 and arm64, Go's crypto/aes uses hardware acceleration when available.
func hasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

// aeadCipher seals with one algorithm and opens with whichever the tag names.
type aeadCipher struct {
	key []byte
	tag byte
	typ CipherType
}

func (c *aeadCipher) Type() CipherType {
	return c.typ
}

// Encrypt returns tag || nonce || sealed.
func (c *aeadCipher) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	aead, err := c.aead(c.tag)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = c.tag
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(out, nonce, plaintext, additionalData), nil
}

func (c *aeadCipher) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, ErrCiphertextTooShort
	}

	aead, err := c.aead(ciphertext[0])
	if err != nil {
		return nil, err
	}

	body := ciphertext[1:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce := body[:aead.NonceSize()]
	return aead.Open(nil, nonce, body[aead.NonceSize():], additionalData)
}

func (c *aeadCipher) aead(tag byte) (cipher.AEAD, error) {
	switch tag {
	case tagAESGCM:
		block, err := aes.NewCipher(c.key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case tagChaCha20:
		return chacha20poly1305.New(c.key)
	default:
		return nil, ErrUnknownAlgorithm
	}
}
