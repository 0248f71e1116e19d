package confloader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SESSIONKEEP_"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	optional  bool
	loaded    bool
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path. Load fails if the file
// does not exist.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
		l.optional = false
	}
}

// WithOptionalConfigFile sets a configuration file that may be absent.
func WithOptionalConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
		l.optional = true
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load unmarshals file and environment into target. target must already
// hold the default values; keys no source sets keep them.
//
// CLI flags are applied separately via LoadMap followed by Unmarshal.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		err := l.LoadFile(l.filePath)
		switch {
		case err == nil:
		case l.optional && errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.LoadEnv(); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	l.loaded = true
	return nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables.
// SESSIONKEEP_STORE_KEY_FILE=/x sets store.key_file; SESSIONKEEP_OUTPUT=json
// sets output.
func (l *Loader) LoadEnv() error {
	provider := env.Provider(l.envPrefix, ".", func(s string) string {
		return EnvKey(l.envPrefix, s)
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// EnvKey converts an environment variable name to a config key.
func EnvKey(prefix, name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, prefix))
	section, key, found := strings.Cut(name, "_")
	if !found {
		return section
	}
	return section + "." + key
}

// LoadMap loads configuration from a map (useful for flags or testing).
// Keys may be dotted ("log.level").
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal unmarshals the loaded configuration into the target struct.
// Uses koanf tags for struct field mapping.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

// Get returns a value from the configuration by key.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// IsLoaded returns true if configuration has been loaded.
func (l *Loader) IsLoaded() bool {
	return l.loaded
}

// Exists reports whether key was set by any source.
func (l *Loader) Exists(key string) bool {
	return l.k.Exists(key)
}

// FilePath returns the configured file path.
func (l *Loader) FilePath() string {
	return l.filePath
}
