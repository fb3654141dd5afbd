// Package cmd provides CLI commands for the persevere binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for status and history.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (status, history only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML config file",
			EnvVars: []string{"PERSEVERE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: json or console",
			Value: "console",
		},
	}
}

// stateFileFlag is required by every command that reads a state file.
func stateFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "state-file",
		Aliases: []string{"s"},
		Usage:   "Path to the transfer state file",
	}
}

// storageFlags select and configure the remote object store.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Object store backend: s3 or minio",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "Region (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom endpoint URL for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "storage-path-style",
			Usage: "Force path-style addressing",
		},
	}
}

// engineFlags configure retries, history and notifications.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-attempts",
			Usage: "Attempts per part before the transfer stops (default 3)",
		},
		&cli.DurationFlag{
			Name:  "retry-backoff",
			Usage: "Initial wait between attempts (default 0: retry immediately)",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Record transfer history in this directory",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel (default persevere:transfer_completed)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-attempt notification timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Notification retry attempts",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the result summary",
		},
	}
}
