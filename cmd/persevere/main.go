// Package main provides the persevere CLI entrypoint.
//
// Usage:
//
//	persevere [--config FILE] <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success or abort
//   - 1: unrecoverable failure, the transfer cannot be resumed
//   - 2: resumable failure, rerun with `<direction> resume`
//   - 3: invalid input (flags or config)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/cmd"
	"github.com/pithecene-io/persevere/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "persevere",
		Usage:          "Resumable multipart transfers to and from S3",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          cmd.GlobalFlags(),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.UploadCommand(),
			cmd.DownloadCommand(),
			cmd.StartCommand(),
			cmd.StatusCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for errors raised by actions.
		// Flag parsing errors land here.
		os.Exit(cmd.ExitInvalidInput)
	}
}

// exitErrHandler prints err and exits with its code.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code and the message to print for err.
// Errors without an exit code are usage errors.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return cmd.ExitInvalidInput, fmt.Sprintf("Error: %v", err)
}
