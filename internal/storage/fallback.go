package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/metric"
)

// credentialStore is the shape shared by TokenStore and Fallback.
type credentialStore interface {
	Save(ctx context.Context, access, refresh string) error
	Load(ctx context.Context) (domain.StoredTokens, error)
	Clear(ctx context.Context) error
}

// Fallback keeps credentials usable when the durable store fails.
//
// The first StorageUnavailable error switches every later call to an
// in-memory shadow for the rest of the process; the session then lasts
// only as long as the process does. Errors other than StorageUnavailable
// (a cancelled context, for one) pass through unchanged.
type Fallback struct {
	primary credentialStore
	shadow  *TokenStore
	logger  logger.Logger
	metrics *metric.Registry

	mu       sync.RWMutex
	degraded bool
}

// NewFallback wraps primary.
func NewFallback(primary credentialStore, l logger.Logger, m *metric.Registry) *Fallback {
	if l == nil {
		l = logger.Default()
	}
	m.SetStoreDegraded(false)
	return &Fallback{
		primary: primary,
		shadow:  NewTokenStore(NewMemoryEngine(), WithStoreLogger(l)),
		logger:  l,
		metrics: m,
	}
}

// Degraded reports whether the durable store has been abandoned.
func (f *Fallback) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Save writes to the active store.
func (f *Fallback) Save(ctx context.Context, access, refresh string) error {
	if !f.Degraded() {
		err := f.primary.Save(ctx, access, refresh)
		if !f.shouldDegrade("save", err) {
			return err
		}
	}
	return f.shadow.Save(ctx, access, refresh)
}

// Load reads from the active store.
func (f *Fallback) Load(ctx context.Context) (domain.StoredTokens, error) {
	if !f.Degraded() {
		tokens, err := f.primary.Load(ctx)
		if !f.shouldDegrade("load", err) {
			return tokens, err
		}
	}
	return f.shadow.Load(ctx)
}

// Clear empties the active store. When degraded it still tries the
// durable store so stale credentials do not resurface after a restart.
func (f *Fallback) Clear(ctx context.Context) error {
	if f.Degraded() {
		if err := f.primary.Clear(ctx); err != nil {
			f.logger.Debug("durable clear failed while degraded", "error", err)
		}
		return f.shadow.Clear(ctx)
	}

	err := f.primary.Clear(ctx)
	if !f.shouldDegrade("clear", err) {
		return err
	}
	return f.shadow.Clear(ctx)
}

// shouldDegrade reports whether err moves the store to memory, and
// performs the switch on first occurrence.
func (f *Fallback) shouldDegrade(op string, err error) bool {
	if err == nil || !errors.Is(err, domain.ErrStorageUnavailable) {
		return false
	}

	f.metrics.IncStoreFailure(op)

	f.mu.Lock()
	first := !f.degraded
	f.degraded = true
	f.mu.Unlock()

	if first {
		f.metrics.SetStoreDegraded(true)
		f.logger.Warn("token storage unavailable, keeping credentials in memory for this process",
			"operation", op, "error", err)
	}
	return true
}
