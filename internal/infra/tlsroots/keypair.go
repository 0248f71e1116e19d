package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// KeyPair holds a client certificate and reloads it when the certificate
// or key file changes. A failed reload keeps the previous certificate.
type KeyPair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	timerMu   sync.Mutex
	timer     *time.Timer
}

// KeyPairOption configures a KeyPair.
type KeyPairOption func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) KeyPairOption {
	return func(kp *KeyPair) {
		kp.logger = logger
	}
}

// WithDebounce sets how long the files must be quiet before a reload.
func WithDebounce(d time.Duration) KeyPairOption {
	return func(kp *KeyPair) {
		kp.debounce = d
	}
}

// LoadKeyPair reads the certificate and key. Call Watch to follow changes.
func LoadKeyPair(certFile, keyFile string, opts ...KeyPairOption) (*KeyPair, error) {
	kp := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(kp)
	}

	if err := kp.Reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

// Reload reads the files again.
func (kp *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}

	kp.mu.Lock()
	kp.cert = &cert
	kp.mu.Unlock()
	return nil
}

// Certificate returns the current certificate.
func (kp *KeyPair) Certificate() *tls.Certificate {
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	return kp.cert
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (kp *KeyPair) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return kp.Certificate(), nil
}

// Watch starts following both files in the background until Close.
func (kp *KeyPair) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}

	dirs := map[string]bool{filepath.Dir(kp.certFile): true, filepath.Dir(kp.keyFile): true}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	kp.watcher = w

	go kp.loop()
	return nil
}

// Close stops watching. It is safe to call more than once, and on a
// KeyPair that never watched.
func (kp *KeyPair) Close() error {
	var err error
	kp.closeOnce.Do(func() {
		close(kp.done)

		kp.timerMu.Lock()
		if kp.timer != nil {
			kp.timer.Stop()
		}
		kp.timerMu.Unlock()

		if kp.watcher != nil {
			err = kp.watcher.Close()
		}
	})
	return err
}

func (kp *KeyPair) loop() {
	certBase := filepath.Base(kp.certFile)
	keyBase := filepath.Base(kp.keyFile)

	for {
		select {
		case event, ok := <-kp.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if base != certBase && base != keyBase {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			kp.scheduleReload()

		case err, ok := <-kp.watcher.Errors:
			if !ok {
				return
			}
			kp.logger.Warn("client certificate watcher error", "error", err)

		case <-kp.done:
			return
		}
	}
}

// scheduleReload waits for the cert and key writes to settle; a rotation
// usually touches both.
func (kp *KeyPair) scheduleReload() {
	kp.timerMu.Lock()
	defer kp.timerMu.Unlock()

	if kp.timer != nil {
		kp.timer.Reset(kp.debounce)
		return
	}
	kp.timer = time.AfterFunc(kp.debounce, func() {
		select {
		case <-kp.done:
			return
		default:
		}
		if err := kp.Reload(); err != nil {
			kp.logger.Warn("client certificate reload failed, keeping previous", "cert_file", kp.certFile, "error", err)
			return
		}
		kp.logger.Info("client certificate reloaded", "cert_file", kp.certFile)
	})
}
