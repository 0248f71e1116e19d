package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionkeep-go/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			rt, err := GetRuntime(c)
			if err != nil {
				return err
			}
			if rt.Format.Machine() {
				return rt.Print(buildinfo.Get())
			}
			fmt.Fprintf(rt.out, "sessionkeep %s\n", buildinfo.String())
			return nil
		},
	}
}
