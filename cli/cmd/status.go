package cmd

import (
	"errors"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/render"
	"github.com/pithecene-io/persevere/cli/tui"
	"github.com/pithecene-io/persevere/state"
)

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// StatusCommand returns the status command. It reads a state file and
// never modifies it.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the progress recorded in a state file",
		Flags:  append(ReadOnlyFlags(), stateFileFlag()),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	if c.String("state-file") == "" {
		return usageError("--state-file is required")
	}
	path, err := absPath(c.String("state-file"))
	if err != nil {
		return usageError("%v", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	d, err := state.NewStore(localFS()).Load(path)
	if err != nil {
		var corrupt *state.CorruptError
		if errors.Is(err, state.ErrNotFound) || errors.As(err, &corrupt) {
			return usageError("%v", err)
		}
		return cli.Exit(err.Error(), ExitUnrecoverable)
	}
	summary := d.Summarize(path)

	if c.Bool("tui") {
		if !isTerminal(os.Stdout) {
			return usageError("--tui requires an interactive terminal")
		}
		return r.RenderTUI(tui.ViewStatus, &summary)
	}
	return r.Render(summary)
}
