package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/render"
	"github.com/pithecene-io/persevere/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version      string `json:"version"`
	StateVersion int    `json:"state_version"`
	Commit       string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return usageError("%v", err)
		}

		if c.Bool("tui") {
			return usageError("--tui is not supported for version command")
		}

		return r.Render(VersionResponse{
			Version:      types.Version,
			StateVersion: types.StateVersion,
			Commit:       commit,
		})
	}
}
