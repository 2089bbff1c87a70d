package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Version is the fotolink release version.
const Version = "0.2.0"

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "fotolink %s (commit: %s)\n", Version, commit)

			return nil
		},
	}
}
