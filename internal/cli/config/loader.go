package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/sessionkeep-go/internal/infra/confloader"
)

// DirEnv overrides the sessionkeep home directory.
const DirEnv = "SESSIONKEEP_HOME"

// DefaultDir returns ~/.sessionkeep, or $SESSIONKEEP_HOME when set.
func DefaultDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".sessionkeep"
	}
	return filepath.Join(homeDir, ".sessionkeep")
}

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load builds the configuration from defaults, the config file, the
// environment and flags, in increasing priority. An empty path reads the
// default file if present; an explicit path must exist. Flag keys are
// dotted ("log.level").
func Load(path string, flags map[string]any) (*CLIConfig, error) {
	if path == "" {
		return load(confloader.WithOptionalConfigFile(DefaultConfigPath()), flags)
	}
	return load(confloader.WithConfigFile(path), flags)
}

// LoadOptional is Load with a config file that may not exist yet.
func LoadOptional(path string, flags map[string]any) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	return load(confloader.WithOptionalConfigFile(path), flags)
}

func load(opt confloader.Option, flags map[string]any) (*CLIConfig, error) {
	loader := confloader.NewLoader(opt)

	cfg := Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if len(flags) > 0 {
		if err := loader.LoadMap(flags); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("apply flags: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *CLIConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes cfg as YAML with 0600 permissions. The passphrase is not written.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
