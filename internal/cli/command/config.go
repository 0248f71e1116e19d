package command

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/cli/config"
	"github.com/yndnr/sessionkeep-go/internal/cli/output"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective configuration (file, environment and flags merged)",
				Action: configShow,
			},
			{
				Name:   "path",
				Usage:  "Print the configuration file path",
				Action: configPath,
			},
			{
				Name:  "init",
				Usage: "Write a configuration file with default values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Overwrite an existing file",
					},
				},
				Action: configInit,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}

	// A table flattens the nested config; YAML reads better.
	format := rt.Format
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format).Format(rt.out, rt.Config.Redacted())
}

func configPath(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(rt.out, rt.ConfigPath)
	return nil
}

func configInit(c *cli.Context) error {
	rt, err := GetRuntime(c)
	if err != nil {
		return err
	}

	path := rt.ConfigPath
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s already exists (use --force to overwrite)", path), 1)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	rt.Say("Wrote %s", path)
	return nil
}
