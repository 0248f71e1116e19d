package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yndnr/sessionkeep-go/internal/core/domain"
	"github.com/yndnr/sessionkeep-go/internal/core/service"
	"github.com/yndnr/sessionkeep-go/internal/identity"
	"github.com/yndnr/sessionkeep-go/internal/storage"
	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// CLIConfig is the configuration for the sessionkeep CLI.
type CLIConfig struct {
	Identity IdentityConfig `koanf:"identity" json:"identity" yaml:"identity"`
	Store    StoreConfig    `koanf:"store" json:"store" yaml:"store"`
	Session  SessionConfig  `koanf:"session" json:"session" yaml:"session"`
	Log      LogConfig      `koanf:"log" json:"log" yaml:"log"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics" yaml:"metrics"`

	// Output is the default output format: table, json, yaml.
	Output string `koanf:"output" json:"output" yaml:"output"`
}

// IdentityConfig locates the identity endpoint.
type IdentityConfig struct {
	BaseURL    string  `koanf:"base_url" json:"base_url" yaml:"base_url"`
	Timeout    string  `koanf:"timeout" json:"timeout" yaml:"timeout"`
	RateLimit  float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst  int     `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
	CAFile     string  `koanf:"ca_file" json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	ClientCert string  `koanf:"client_cert" json:"client_cert,omitempty" yaml:"client_cert,omitempty"`
	ClientKey  string  `koanf:"client_key" json:"client_key,omitempty" yaml:"client_key,omitempty"`
}

// StoreConfig selects where tokens are kept.
type StoreConfig struct {
	// Backend is badger or memory.
	Backend string `koanf:"backend" json:"backend" yaml:"backend"`
	Dir     string `koanf:"dir" json:"dir" yaml:"dir"`

	// Encrypt seals tokens at rest with KeyFile, or with Passphrase when set.
	Encrypt bool   `koanf:"encrypt" json:"encrypt" yaml:"encrypt"`
	KeyFile string `koanf:"key_file" json:"key_file,omitempty" yaml:"key_file,omitempty"`

	// Passphrase is never written back by Save; it shows redacted in JSON.
	Passphrase string `koanf:"passphrase" json:"passphrase,omitempty" yaml:"-"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	// BusyPolicy is reject or queue.
	BusyPolicy string `koanf:"busy_policy" json:"busy_policy" yaml:"busy_policy"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics while the REPL runs.
type MetricsConfig struct {
	// Address is host:port; empty disables the endpoint.
	Address string `koanf:"address" json:"address,omitempty" yaml:"address,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	id := identity.DefaultConfig()
	return &CLIConfig{
		Identity: IdentityConfig{
			BaseURL:   id.BaseURL,
			Timeout:   id.Timeout.String(),
			RateLimit: id.RateLimit,
			RateBurst: id.RateBurst,
		},
		Store: StoreConfig{
			Backend: storage.EngineBadger,
			Dir:     filepath.Join(DefaultDir(), "store"),
		},
		Session: SessionConfig{BusyPolicy: service.BusyReject.String()},
		Log:     LogConfig{Level: "warn", Format: "text"},
		Output:  OutputTable,
	}
}

// Validate checks field values.
func (c *CLIConfig) Validate() error {
	if _, err := c.timeout(); err != nil {
		return err
	}
	if c.Identity.RateLimit < 0 {
		return invalid("identity.rate_limit must not be negative")
	}
	if (c.Identity.ClientCert == "") != (c.Identity.ClientKey == "") {
		return invalid("identity.client_cert and identity.client_key must be set together")
	}

	switch strings.ToLower(c.Store.Backend) {
	case storage.EngineBadger:
		if c.Store.Dir == "" {
			return invalid("store.dir is required for the badger backend")
		}
	case storage.EngineMemory:
	default:
		return invalid(fmt.Sprintf("unknown store.backend %q (badger, memory)", c.Store.Backend))
	}

	if _, err := service.ParseBusyPolicy(c.Session.BusyPolicy); err != nil {
		return err
	}
	if !logger.ValidLevel(c.Log.Level) {
		return invalid(fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "console", "json":
	default:
		return invalid(fmt.Sprintf("unknown log.format %q (text, json)", c.Log.Format))
	}
	switch c.Output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return invalid(fmt.Sprintf("unknown output %q (table, json, yaml)", c.Output))
	}
	return nil
}

func invalid(details string) error {
	return domain.ErrInvalidArgument.WithDetails(details)
}

func (c *CLIConfig) timeout() (time.Duration, error) {
	if c.Identity.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Identity.Timeout)
	if err != nil || d < 0 {
		return 0, invalid(fmt.Sprintf("identity.timeout %q is not a duration", c.Identity.Timeout))
	}
	return d, nil
}

// IdentityClientConfig converts to the identity client configuration.
// Call Validate first; an unparsable timeout falls back to the default.
func (c *CLIConfig) IdentityClientConfig() identity.Config {
	cfg := identity.DefaultConfig()
	cfg.BaseURL = c.Identity.BaseURL
	if d, err := c.timeout(); err == nil && d > 0 {
		cfg.Timeout = d
	}
	cfg.RateLimit = c.Identity.RateLimit
	cfg.RateBurst = c.Identity.RateBurst
	cfg.CAFile = c.Identity.CAFile
	cfg.ClientCert = c.Identity.ClientCert
	cfg.ClientKey = c.Identity.ClientKey
	return cfg
}

// KVConfig converts to the storage engine configuration.
func (c *CLIConfig) KVConfig() storage.KVConfig {
	cfg := storage.DefaultKVConfig(c.Store.Dir)
	cfg.Engine = strings.ToLower(c.Store.Backend)
	return cfg
}

// SealConfig returns the sealing configuration, or nil when tokens are
// stored in the clear. Key and salt files default to the store's parent
// directory so they never live inside the database.
func (c *CLIConfig) SealConfig() *storage.SealConfig {
	if !c.Store.Encrypt && c.Store.Passphrase == "" {
		return nil
	}
	base := filepath.Dir(filepath.Clean(c.Store.Dir))
	cfg := &storage.SealConfig{
		KeyFile:    c.Store.KeyFile,
		Passphrase: c.Store.Passphrase,
		SaltFile:   filepath.Join(base, "seal.salt"),
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join(base, "seal.key")
	}
	return cfg
}

// LoggerConfig converts to the logger configuration.
func (c *CLIConfig) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	return cfg
}

// BusyPolicy returns the parsed busy policy, BusyReject when invalid.
func (c *CLIConfig) BusyPolicy() service.BusyPolicy {
	p, err := service.ParseBusyPolicy(c.Session.BusyPolicy)
	if err != nil {
		return service.BusyReject
	}
	return p
}

// Redacted returns a copy safe to print.
func (c *CLIConfig) Redacted() *CLIConfig {
	out := *c
	if out.Store.Passphrase != "" {
		out.Store.Passphrase = "[REDACTED]"
	}
	return &out
}
