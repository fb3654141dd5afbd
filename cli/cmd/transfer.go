package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/adapter"
	"github.com/pithecene-io/persevere/cli/config"
	"github.com/pithecene-io/persevere/journal"
	"github.com/pithecene-io/persevere/log"
	"github.com/pithecene-io/persevere/metrics"
	"github.com/pithecene-io/persevere/state"
	"github.com/pithecene-io/persevere/storage"
	"github.com/pithecene-io/persevere/transfer"
	"github.com/pithecene-io/persevere/types"
)

// Exit codes for transfer commands.
const (
	ExitSuccess       = 0
	ExitUnrecoverable = 1
	ExitResumable     = 2
	ExitInvalidInput  = 3
)

// notifyTimeout bounds publishing the completion event.
const notifyTimeout = 30 * time.Second

// UploadCommand returns the upload command. Without a subcommand it
// behaves as upload start.
func UploadCommand() *cli.Command {
	return transferCommand(types.DirectionUpload, "Upload a local file as a multipart object")
}

// DownloadCommand returns the download command. Without a subcommand it
// behaves as download start.
func DownloadCommand() *cli.Command {
	return transferCommand(types.DirectionDownload, "Download an object in ranged parts")
}

// StartCommand returns the top-level start command, an alias for upload start.
func StartCommand() *cli.Command {
	return &cli.Command{
		Name:   "start",
		Usage:  "Start an upload (alias for upload start)",
		Flags:  startFlags(types.DirectionUpload),
		Action: startAction(types.DirectionUpload),
	}
}

func transferCommand(dir types.Direction, usage string) *cli.Command {
	return &cli.Command{
		Name:   string(dir),
		Usage:  usage,
		Flags:  startFlags(dir),
		Action: startAction(dir),
		Subcommands: []*cli.Command{
			{
				Name:   "start",
				Usage:  fmt.Sprintf("Start a new %s", dir),
				Flags:  startFlags(dir),
				Action: startAction(dir),
			},
			{
				Name:   "resume",
				Usage:  fmt.Sprintf("Resume an interrupted %s from its state file", dir),
				Flags:  stateFlags(),
				Action: resumeAction(dir),
			},
			{
				Name:   "abort",
				Usage:  fmt.Sprintf("Abort a %s and delete its state file", dir),
				Flags:  stateFlags(),
				Action: abortAction(dir),
			},
		},
	}
}

// localFlag names the flag carrying the local path for dir.
func localFlag(dir types.Direction) string {
	if dir == types.DirectionDownload {
		return "output"
	}
	return "file"
}

func startFlags(dir types.Direction) []cli.Flag {
	local := &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"i"},
		Usage:   "Local file to upload",
	}
	if dir == types.DirectionDownload {
		local = &cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Local file to create (must not exist)",
		}
	}
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "bucket",
			Aliases: []string{"b"},
			Usage:   "Bucket name",
		},
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "Object key",
		},
		local,
		&cli.StringFlag{
			Name:  "part-size",
			Usage: "Part size, e.g. 8MiB (default: computed from the object size)",
		},
	}
	return append(flags, stateFlags()...)
}

func stateFlags() []cli.Flag {
	flags := []cli.Flag{stateFileFlag()}
	flags = append(flags, storageFlags()...)
	return append(flags, engineFlags()...)
}

// usageError reports invalid input.
func usageError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), ExitInvalidInput)
}

func startAction(dir types.Direction) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return usageError("%v", err)
		}

		req := transfer.Request{
			Bucket: c.String("bucket"),
			Key:    c.String("key"),
		}
		switch {
		case req.Bucket == "":
			return usageError("--bucket is required")
		case req.Key == "":
			return usageError("--key is required")
		case c.String(localFlag(dir)) == "":
			return usageError("--%s is required", localFlag(dir))
		case c.String("state-file") == "":
			return usageError("--state-file is required")
		}
		if req.LocalPath, err = absPath(c.String(localFlag(dir))); err != nil {
			return usageError("%v", err)
		}
		if req.StateFile, err = absPath(c.String("state-file")); err != nil {
			return usageError("%v", err)
		}
		if req.PartSize, err = resolvePartSize(c, cfg, dir); err != nil {
			return usageError("%v", err)
		}

		return runTransfer(c, cfg, dir, func(ctx context.Context, s *session) (*transfer.Result, error) {
			return s.engine.Start(ctx, s.driver, req)
		})
	}
}

func resumeAction(dir types.Direction) cli.ActionFunc {
	return stateFileAction(dir, func(ctx context.Context, s *session, stateFile string) (*transfer.Result, error) {
		return s.engine.Resume(ctx, s.driver, stateFile)
	})
}

func abortAction(dir types.Direction) cli.ActionFunc {
	return stateFileAction(dir, func(ctx context.Context, s *session, stateFile string) (*transfer.Result, error) {
		return s.engine.Abort(ctx, s.driver, stateFile)
	})
}

func stateFileAction(dir types.Direction, op func(context.Context, *session, string) (*transfer.Result, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return usageError("%v", err)
		}
		if c.String("state-file") == "" {
			return usageError("--state-file is required")
		}
		stateFile, err := absPath(c.String("state-file"))
		if err != nil {
			return usageError("%v", err)
		}
		return runTransfer(c, cfg, dir, func(ctx context.Context, s *session) (*transfer.Result, error) {
			return op(ctx, s, stateFile)
		})
	}
}

// resolvePartSize returns --part-size, then the configured size for dir.
// Zero means the plan chooses.
func resolvePartSize(c *cli.Context, cfg *config.Config, dir types.Direction) (uint64, error) {
	if c.IsSet("part-size") {
		n, err := config.ParseByteSize(c.String("part-size"))
		if err != nil {
			return 0, fmt.Errorf("--part-size: %w", err)
		}
		return uint64(n), nil
	}
	tc := configVal(cfg, func(c *config.Config) config.TransferConfig { return c.Transfer })
	if dir == types.DirectionDownload {
		return uint64(tc.DownloadPartSize), nil
	}
	return uint64(tc.UploadPartSize), nil
}

// session holds the collaborators of one transfer command.
type session struct {
	logger  *log.Logger
	engine  *transfer.Engine
	driver  transfer.Driver
	journal journal.Journal
	adapter adapter.Adapter
}

// openSession wires logging, storage, history and notifications for dir.
// Every error it returns is a configuration problem.
func openSession(ctx context.Context, c *cli.Context, cfg *config.Config, dir types.Direction) (*session, error) {
	logger, err := newLogger(c, cfg)
	if err != nil {
		return nil, err
	}

	policy, err := retryPolicy(c, cfg)
	if err != nil {
		return nil, err
	}

	sc := storageConfig(c, cfg)
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	remote, err := openStore(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	target, err := resolveJournal(c, cfg, false)
	if err != nil {
		return nil, err
	}
	notifier, err := newAdapter(c, cfg)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}

	backend := sc.Backend
	if backend == "" {
		backend = storage.BackendS3
	}
	s := &session{
		logger:  logger,
		journal: openJournal(ctx, target, logger),
		adapter: notifier,
	}

	fs := localFS()
	if dir == types.DirectionDownload {
		s.driver = transfer.NewDownloader(fs, remote)
	} else {
		s.driver = transfer.NewUploader(fs, remote)
	}

	s.engine, err = transfer.NewEngine(transfer.Config{
		Store:     state.NewStore(fs),
		Retry:     policy,
		Logger:    logger,
		Collector: metrics.NewCollector(string(dir), string(backend)),
		Journal:   s.journal,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if err := s.journal.Close(); err != nil {
		s.logger.Warn("close journal", map[string]any{"error": err.Error()})
	}
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn("close adapter", map[string]any{"error": err.Error()})
		}
	}
	_ = s.logger.Sync()
}

// runTransfer opens a session, runs op under a signal-aware context and
// maps the result to an exit code.
func runTransfer(c *cli.Context, cfg *config.Config, dir types.Direction, op func(context.Context, *session) (*transfer.Result, error)) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := openSession(ctx, c, cfg, dir)
	if err != nil {
		return usageError("%v", err)
	}
	defer s.close()

	res, err := op(ctx, s)
	if err != nil {
		return usageError("%v", err)
	}

	if !c.Bool("quiet") {
		printResult(c.App.Writer, res)
	}
	s.notify(ctx, res)
	return exitFor(res)
}

// notify publishes the completion event. Failures are logged only.
func (s *session) notify(ctx context.Context, res *transfer.Result) {
	if s.adapter == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.adapter.Publish(nctx, res.Event(time.Now())); err != nil {
		s.logger.Warn("notification failed", map[string]any{
			"transfer_id": res.TransferID,
			"error":       err.Error(),
		})
	}
}

// exitFor maps an outcome to the command's exit error.
func exitFor(res *transfer.Result) error {
	switch res.Outcome.Status {
	case types.OutcomeSuccess, types.OutcomeAborted:
		return nil
	case types.OutcomeRetryableFailure:
		if res.Aborting {
			return cli.Exit(fmt.Sprintf("%s abort failed: %s\nretry the abort with: %s",
				res.Direction, res.Outcome.Message, AbortCommand(res.Direction, res.StateFile)), ExitResumable)
		}
		return cli.Exit(fmt.Sprintf("%s failed: %s\nresume with: %s",
			res.Direction, res.Outcome.Message, ResumeCommand(res.Direction, res.StateFile)), ExitResumable)
	default:
		msg := fmt.Sprintf("%s failed and cannot be resumed: %s", res.Direction, res.Outcome.Message)
		if res.Direction == types.DirectionUpload && res.TransferID != "" {
			if res.Outcome.RemoteCancelled {
				msg += "\nthe remote multipart upload was cancelled"
			} else {
				msg += "\nthe remote multipart upload was not cancelled"
			}
		}
		return cli.Exit(msg, ExitUnrecoverable)
	}
}

// ResumeCommand renders the command line that resumes a transfer.
func ResumeCommand(dir types.Direction, stateFile string) string {
	return fmt.Sprintf("persevere %s resume --state-file %s", dir, shellQuote(stateFile))
}

// AbortCommand renders the command line that aborts a transfer.
func AbortCommand(dir types.Direction, stateFile string) string {
	return fmt.Sprintf("persevere %s abort --state-file %s", dir, shellQuote(stateFile))
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func printResult(w io.Writer, res *transfer.Result) {
	fmt.Fprintf(w, "\n=== Transfer Result ===\n")
	fmt.Fprintf(w, "Transfer ID:  %s\n", res.TransferID)
	fmt.Fprintf(w, "Direction:    %s\n", res.Direction)
	fmt.Fprintf(w, "Object:       s3://%s/%s\n", res.Bucket, res.Key)
	fmt.Fprintf(w, "Local path:   %s\n", res.LocalPath)
	fmt.Fprintf(w, "State file:   %s\n", res.StateFile)
	fmt.Fprintf(w, "Outcome:      %s\n", res.Outcome.Status)
	if res.Outcome.Message != "" {
		fmt.Fprintf(w, "Message:      %s\n", res.Outcome.Message)
	}
	if res.Outcome.FailedPart > 0 {
		fmt.Fprintf(w, "Failed part:  %d\n", res.Outcome.FailedPart)
	}
	fmt.Fprintf(w, "Parts:        %d/%d (%d this run)\n", res.PartsCompleted, res.PartCount, res.PartsTransferred)
	fmt.Fprintf(w, "Transferred:  %s\n", humanize.IBytes(uint64(res.BytesTransferred)))
	if res.ETag != "" {
		fmt.Fprintf(w, "ETag:         %s\n", res.ETag)
	}
	fmt.Fprintf(w, "Duration:     %s\n", res.Duration.Round(time.Millisecond))
}
