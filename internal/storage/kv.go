package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// Op is one write in an atomic batch.
type Op struct {
	Key   []byte
	Value []byte
	// Delete removes Key; Value is ignored.
	Delete bool
}

// SetOp returns an Op that stores value under key.
func SetOp(key string, value []byte) Op {
	return Op{Key: []byte(key), Value: value}
}

// DeleteOp returns an Op that removes key.
func DeleteOp(key string) Op {
	return Op{Key: []byte(key), Delete: true}
}

// KV is the key-value contract the token store is built on.
//
// Implementations must be safe for concurrent use, and Apply must be
// atomic: either every op is visible afterwards or none is.
type KV interface {
	// Get returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Apply commits ops as one batch.
	Apply(ctx context.Context, ops []Op) error

	Close() error
}

// Engine names accepted by KVConfig.Engine.
const (
	EngineBadger = "badger"
	EngineMemory = "memory"
)

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Engine specifies the KV engine type ("badger", "memory").
	// Default: "badger"
	Engine string

	// Dir is the storage directory. Required for badger.
	Dir string

	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
//
// The store holds two small values, so the defaults keep badger's
// footprint minimal rather than tuned for throughput.
type BadgerConfig struct {
	// GCInterval is the interval between automatic value log GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 1MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 16MB
	ValueLogFileSize int64

	// SyncWrites fsyncs after each write.
	// Default: true (a lost refresh token means a forced sign-in)
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Engine: EngineBadger,
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        1 << 20,  // 1MB
		ValueLogFileSize: 16 << 20, // 16MB
		SyncWrites:       true,
	}
}

// Open creates the engine named by cfg.Engine.
func Open(cfg KVConfig, logger *slog.Logger) (KV, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", EngineBadger:
		engine, err := NewBadgerEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case EngineMemory:
		return NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}
