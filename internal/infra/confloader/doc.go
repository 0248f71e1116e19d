// Package confloader provides configuration loading for sessionkeep.
//
// It layers several sources with koanf and unmarshals the result into a
// typed struct. Later sources override earlier ones:
//
//  1. Default values (the struct passed to Load)
//  2. YAML configuration file
//  3. SESSIONKEEP_* environment variables
//  4. Command-line flags (LoadMap)
//
// Environment names map to keys by splitting the section off at the first
// underscore: SESSIONKEEP_IDENTITY_BASE_URL sets identity.base_url.
//
// Watcher reports changes to the configuration file so long-running
// commands can pick up a new log level without a restart.
package confloader
