// Package config defines the sessionkeep CLI configuration.
//
//   - spec.go: CLIConfig and its conversions to component configs
//   - loader.go: defaults < ~/.sessionkeep/config.yaml < SESSIONKEEP_* < flags
package config
