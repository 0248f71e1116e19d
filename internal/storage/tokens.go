package storage

import (
	"context"
	"errors"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/pkg/crypto/adaptive"
)

// Keys under which the credential pair is persisted.
const (
	AccessTokenKey  = "session/access_token"
	RefreshTokenKey = "session/refresh_token"
)

// TokenStore persists the access/refresh pair on top of a KV.
//
// Values are opaque: nothing is parsed or validated. An empty value is
// stored as an absent key.
type TokenStore struct {
	kv     KV
	cipher adaptive.Cipher
	logger logger.Logger
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithCipher seals every value at rest. The key name is bound as
// additional data so the two values cannot be swapped on disk.
func WithCipher(c adaptive.Cipher) TokenStoreOption {
	return func(s *TokenStore) {
		s.cipher = c
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l logger.Logger) TokenStoreOption {
	return func(s *TokenStore) {
		s.logger = l
	}
}

// NewTokenStore creates a TokenStore over kv.
func NewTokenStore(kv KV, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		kv:     kv,
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save overwrites both values in one batch.
func (s *TokenStore) Save(ctx context.Context, access, refresh string) error {
	ops := make([]Op, 0, 2)
	for _, kv := range [][2]string{{AccessTokenKey, access}, {RefreshTokenKey, refresh}} {
		key, value := kv[0], kv[1]
		if value == "" {
			ops = append(ops, DeleteOp(key))
			continue
		}

		data, err := s.seal(key, value)
		if err != nil {
			return domain.ErrStorageUnavailable.WithDetails("seal " + key).WithCause(err)
		}
		ops = append(ops, SetOp(key, data))
	}

	if err := s.kv.Apply(ctx, ops); err != nil {
		return storeError("save", err)
	}
	return nil
}

// Load returns whatever is stored. Absent values are empty strings.
func (s *TokenStore) Load(ctx context.Context) (domain.StoredTokens, error) {
	access, err := s.get(ctx, AccessTokenKey)
	if err != nil {
		return domain.StoredTokens{}, err
	}
	refresh, err := s.get(ctx, RefreshTokenKey)
	if err != nil {
		return domain.StoredTokens{}, err
	}
	return domain.StoredTokens{Access: access, Refresh: refresh}, nil
}

// Clear removes both values. Clearing an empty store succeeds.
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.kv.Apply(ctx, []Op{DeleteOp(AccessTokenKey), DeleteOp(RefreshTokenKey)}); err != nil {
		return storeError("clear", err)
	}
	return nil
}

func (s *TokenStore) get(ctx context.Context, key string) (string, error) {
	data, err := s.kv.Get(ctx, []byte(key))
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", storeError("load "+key, err)
	}

	value, err := s.open(key, data)
	if err != nil {
		// A rotated key or a plaintext leftover reads as a fresh visit.
		s.logger.Warn("stored credential unreadable, ignoring", "key", key, "error", err)
		return "", nil
	}
	return value, nil
}

func (s *TokenStore) seal(key, value string) ([]byte, error) {
	if s.cipher == nil {
		return []byte(value), nil
	}
	return s.cipher.Encrypt([]byte(value), []byte(key))
}

func (s *TokenStore) open(key string, data []byte) (string, error) {
	if s.cipher == nil {
		return string(data), nil
	}
	plain, err := s.cipher.Decrypt(data, []byte(key))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// storeError wraps engine failures as StorageUnavailable. Context errors
// belong to the caller and are returned as is.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ErrStorageUnavailable.WithDetails(op).WithCause(err)
}
