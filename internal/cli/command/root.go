package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/cli/config"
	"github.com/yndnr/sessionkeep-go/internal/infra/buildinfo"
)

const runtimeKey = "runtime"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "sessionkeep",
		Usage:                "Keep a signed-in session with an identity service",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			LoginCommand(),
			LogoutCommand(),
			RegisterCommand(),
			WhoamiCommand(),
			REPLCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Metadata: map[string]any{},
		Before:   bootstrap,
		After:    teardown,
	}
}

// globalFlags returns the global CLI flags. Everything except --config
// also has a config file key and a SESSIONKEEP_* variable.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file (default ~/.sessionkeep/config.yaml)",
			EnvVars: []string{"SESSIONKEEP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "base-url",
			Aliases: []string{"u"},
			Usage:   "Identity API root, e.g. https://id.example.com/api",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "Token store backend: badger, memory",
		},
		&cli.StringFlag{
			Name:  "store-dir",
			Usage: "Token store directory",
		},
		&cli.StringFlag{
			Name:  "busy-policy",
			Usage: "When an operation is already running: reject, queue",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// flagKeys maps global flags to config keys.
var flagKeys = map[string]string{
	"base-url":    "identity.base_url",
	"output":      "output",
	"store":       "store.backend",
	"store-dir":   "store.dir",
	"busy-policy": "session.busy_policy",
	"log-level":   "log.level",
}

// flagOverrides collects the global flags the user actually set.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	if c.IsSet("timeout") {
		overrides["identity.timeout"] = c.Duration("timeout").String()
	}
	return overrides
}

// bootstrap loads the configuration and stores the Runtime in Metadata.
func bootstrap(c *cli.Context) error {
	path := c.String("config")
	load := config.Load
	if c.Args().Get(0) == "config" && c.Args().Get(1) == "init" {
		load = config.LoadOptional
	}
	cfg, err := load(path, flagOverrides(c))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if path == "" {
		path = config.DefaultConfigPath()
	}

	rt, err := newRuntime(cfg, path, c.App.Reader, c.App.Writer, c.App.ErrWriter)
	if err != nil {
		return err
	}
	c.App.Metadata[runtimeKey] = rt
	return nil
}

func teardown(c *cli.Context) error {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		return nil
	}
	return rt.Close()
}

// GetRuntime retrieves the Runtime from context.
func GetRuntime(c *cli.Context) (*Runtime, error) {
	rt, ok := c.App.Metadata[runtimeKey].(*Runtime)
	if !ok {
		return nil, fmt.Errorf("sessionkeep: not initialized")
	}
	return rt, nil
}
