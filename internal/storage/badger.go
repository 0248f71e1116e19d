package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// KVStats contains storage engine statistics.
type KVStats struct {
	// LSMSize is the LSM tree size in bytes.
	LSMSize uint64

	// ValueLogSize is the value log size in bytes.
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCRuns counts value log rewrites since open.
	GCRuns uint64
}

// BadgerEngine implements KV using Badger v3.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	closed     atomic.Bool
	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	// Prometheus metrics
	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewBadgerEngine opens (or creates) a Badger database in cfg.Dir.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}

	badgerCfg := cfg.Badger
	opts.BlockCacheSize = badgerCfg.CacheSize
	opts.ValueLogFileSize = badgerCfg.ValueLogFileSize
	opts.SyncWrites = badgerCfg.SyncWrites
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	engine := &BadgerEngine{
		db:     db,
		cfg:    badgerCfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go engine.gcLoop()

	logger.Debug("badger engine started",
		"dir", cfg.Dir,
		"sync_writes", badgerCfg.SyncWrites,
		"gc_interval", badgerCfg.GCInterval)

	return engine, nil
}

// Get retrieves a value by key.
func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Apply commits ops in a single read-write transaction.
func (e *BadgerEngine) Apply(ctx context.Context, ops []Op) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = txn.Delete(op.Key)
			} else {
				err = txn.Set(op.Key, op.Value)
			}
			if err != nil {
				return fmt.Errorf("badger: apply %s: %w", op.Key, err)
			}
		}
		return nil
	})
}

// GC rewrites value log files until badger reports nothing to reclaim.
// Returns the number of rewrites performed.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	runs := 0
	for ctx.Err() == nil {
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcRuns.Add(uint64(runs))

	if runs > 0 {
		e.logger.Debug("badger gc completed", "rewrites", runs)
	}
	return runs, nil
}

// Stats returns storage statistics.
func (e *BadgerEngine) Stats() KVStats {
	lsm, vlog := e.db.Size()

	return KVStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   e.lastGCTime.Load(),
		GCRuns:       e.gcRuns.Load(),
	}
}

// Close stops the GC loop and closes the database. Safe to call twice.
func (e *BadgerEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		<-e.doneCh

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("close db: %w", cerr)
		}
		e.logger.Debug("badger engine closed")
	})
	return err
}

// RegisterMetrics exports badger's on-disk size through reg.
// A nil registerer leaves metrics disabled.
func (e *BadgerEngine) RegisterMetrics(reg prometheus.Registerer) *BadgerEngine {
	if reg == nil {
		return e
	}

	e.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionkeep",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	e.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessionkeep",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})

	for _, c := range []prometheus.Collector{e.metricsLSMSize, e.metricsValueLogSize} {
		if err := reg.Register(c); err != nil {
			e.logger.Warn("badger metrics not registered", "error", err)
			return e
		}
	}

	e.updateMetrics()
	go e.metricsUpdateLoop()

	return e
}

func (e *BadgerEngine) updateMetrics() {
	stats := e.Stats()
	e.metricsLSMSize.Set(float64(stats.LSMSize))
	e.metricsValueLogSize.Set(float64(stats.ValueLogSize))
}

func (e *BadgerEngine) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.updateMetrics()
		case <-e.stopCh:
			return
		}
	}
}

// gcLoop runs periodic garbage collection.
func (e *BadgerEngine) gcLoop() {
	defer close(e.doneCh)

	interval, err := time.ParseDuration(e.cfg.GCInterval)
	if err != nil || interval <= 0 {
		e.logger.Warn("invalid gc_interval, using default 10m", "value", e.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := e.GC(ctx); err != nil {
				e.logger.Error("auto gc failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

// Infof is demoted: badger reports every table open and compaction at info.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
