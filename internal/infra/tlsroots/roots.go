package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoCertsFound is returned when no certificates are found in a PEM file.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")
)

// Pool manages a pool of trusted root certificates.
type Pool struct {
	certPool *x509.CertPool
	added    int
}

// NewPool creates a pool seeded with the system roots. Systems without
// readable roots get an empty pool.
func NewPool() (*Pool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}, nil
}

// NewEmptyPool creates a new empty certificate pool without system roots.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertFile adds every certificate in a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read cert file %s: %w", path, err)
	}
	if err := p.AddCertPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddCertPEM adds certificates from PEM-encoded data. Non-certificate
// blocks are skipped.
func (p *Pool) AddCertPEM(pemData []byte) error {
	added := 0
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.AddCert(cert)
		added++
	}

	if added == 0 {
		return ErrNoCertsFound
	}
	return nil
}

// AddCert adds a certificate directly.
func (p *Pool) AddCert(cert *x509.Certificate) {
	p.certPool.AddCert(cert)
	p.added++
}

// AddCertDir adds every .pem, .crt and .cer file in dir. Files without
// certificates are skipped; the count of files used is returned.
func (p *Pool) AddCertDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}

	used := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
			if err := p.AddCertFile(filepath.Join(dir, entry.Name())); err == nil {
				used++
			}
		}
	}
	return used, nil
}

// Added returns how many certificates were added beyond the system roots.
func (p *Pool) Added() int {
	return p.added
}

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool {
	return p.certPool
}

// TLSConfig returns a client config trusting this pool.
func (p *Pool) TLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certPool,
		MinVersion: tls.VersionTLS12,
	}
}

// ClientAuthConfig returns a client config trusting this pool that
// presents the current certificate of kp when the server asks for one.
func (p *Pool) ClientAuthConfig(kp *KeyPair) *tls.Config {
	cfg := p.TLSConfig()
	cfg.GetClientCertificate = kp.GetClientCertificate
	return cfg
}
