package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/adapter"
	"github.com/pithecene-io/persevere/adapter/redis"
	"github.com/pithecene-io/persevere/adapter/webhook"
	"github.com/pithecene-io/persevere/cli/config"
	"github.com/pithecene-io/persevere/journal"
	"github.com/pithecene-io/persevere/log"
	"github.com/pithecene-io/persevere/storage"
	"github.com/pithecene-io/persevere/transfer"
)

// openStore builds the remote object store. Tests replace it.
var openStore = storage.New

// localFS is the filesystem local paths and state files live on. Paths
// handed to it are absolute.
var localFS = func() billy.Filesystem { return osfs.New("/") }

// absPath resolves p against the working directory.
func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", p, err)
	}
	return abs, nil
}

// newLogger builds the command logger from flags and config.
func newLogger(c *cli.Context, cfg *config.Config) (*log.Logger, error) {
	return log.New(log.Options{
		Level:  resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level })),
		Format: resolveString(c, "log-format", configVal(cfg, func(c *config.Config) string { return c.Log.Format })),
	})
}

// storageConfig merges the storage flags over the config file.
func storageConfig(c *cli.Context, cfg *config.Config) storage.Config {
	sc := configVal(cfg, func(c *config.Config) config.StorageConfig { return c.Storage }).ToStorage()
	sc.Backend = storage.Backend(resolveString(c, "storage-backend", string(sc.Backend)))
	sc.Region = resolveString(c, "storage-region", sc.Region)
	sc.Endpoint = resolveString(c, "storage-endpoint", sc.Endpoint)
	sc.UsePathStyle = resolveBool(c, "storage-path-style", sc.UsePathStyle)
	return sc
}

// retryPolicy merges the retry flags over the config file. The merged
// policy is validated here since the engine reads a zero attempt count
// as the default.
func retryPolicy(c *cli.Context, cfg *config.Config) (transfer.RetryPolicy, error) {
	tc := configVal(cfg, func(c *config.Config) config.TransferConfig { return c.Transfer })
	p := transfer.RetryPolicy{
		MaxAttempts: resolveInt(c, "max-attempts", intOr(tc.MaxAttempts, transfer.DefaultMaxAttempts)),
		Backoff:     resolveDuration(c, "retry-backoff", tc.RetryBackoff.Duration),
	}
	if err := p.Validate(); err != nil {
		return transfer.RetryPolicy{}, fmt.Errorf("retry: %w", err)
	}
	return p, nil
}

// journalTarget describes where history records live.
type journalTarget struct {
	dataset string
	backend string
	path    string
	s3      journal.S3Config
}

// resolveJournal returns the journal target, or nil when history is off.
// --journal-path enables a filesystem journal regardless of the config;
// always resolves a target even when the journal is disabled.
func resolveJournal(c *cli.Context, cfg *config.Config, always bool) (*journalTarget, error) {
	jc := configVal(cfg, func(c *config.Config) config.JournalConfig { return c.Journal })
	if !jc.Enabled && !c.IsSet("journal-path") && !always {
		return nil, nil
	}

	t := &journalTarget{dataset: jc.Dataset, backend: jc.Backend, path: jc.Path}
	if c.IsSet("journal-path") {
		t.backend = config.JournalFS
		t.path = c.String("journal-path")
	}

	switch t.backend {
	case config.JournalS3:
		t.s3 = journal.S3Config{
			Bucket:       jc.Bucket,
			Prefix:       jc.Prefix,
			Region:       jc.Region,
			Endpoint:     jc.Endpoint,
			UsePathStyle: jc.PathStyle,
		}
		return t, t.s3.Validate()
	default:
		t.backend = config.JournalFS
		if t.path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("journal: no path configured and no home directory: %w", err)
			}
			t.path = filepath.Join(home, ".persevere", "journal")
		}
		return t, nil
	}
}

// factory returns the lode store factory for the target.
func (t *journalTarget) factory(ctx context.Context) (lode.StoreFactory, error) {
	if t.backend == config.JournalS3 {
		return journal.S3Factory(ctx, t.s3)
	}
	if err := os.MkdirAll(t.path, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return lode.NewFSFactory(t.path), nil
}

// openJournal opens the journal for a transfer command. The journal is
// best effort: when it cannot be opened the command runs without one.
func openJournal(ctx context.Context, t *journalTarget, logger *log.Logger) journal.Journal {
	if t == nil {
		return journal.Nop{}
	}
	factory, err := t.factory(ctx)
	if err == nil {
		var j *journal.LodeJournal
		if j, err = journal.New(t.dataset, factory); err == nil {
			return j
		}
	}
	logger.Warn("journal unavailable; continuing without history", map[string]any{
		"backend": t.backend,
		"error":   err.Error(),
	})
	return journal.Nop{}
}

// newAdapter builds the notification adapter, or nil when none is set.
func newAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	ac := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })
	typ := resolveString(c, "adapter", ac.Type)
	url := resolveString(c, "adapter-url", ac.URL)
	timeout := resolveDuration(c, "adapter-timeout", ac.Timeout.Duration)
	retries := resolveInt(c, "adapter-retries", intOr(ac.Retries, adapter.DefaultRetries))

	switch typ {
	case "":
		if url != "" {
			return nil, errors.New("--adapter-url requires --adapter")
		}
		return nil, nil
	case config.AdapterWebhook:
		a, err := webhook.New(webhook.Config{
			URL:     url,
			Headers: ac.Headers,
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.AdapterRedis:
		a, err := redis.New(redis.Config{
			URL:     url,
			Channel: resolveString(c, "adapter-channel", ac.Channel),
			Timeout: timeout,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (want webhook or redis)", typ)
	}
}
