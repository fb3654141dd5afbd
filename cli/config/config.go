// Package config handles the persevere YAML config file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/persevere/storage"
)

// Config represents a persevere.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Transfer TransferConfig `yaml:"transfer"`
	Journal  JournalConfig  `yaml:"journal"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig selects the remote object store.
type StorageConfig struct {
	Backend         string `yaml:"backend"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	Insecure        bool   `yaml:"insecure"`
}

// TransferConfig holds transfer defaults.
type TransferConfig struct {
	UploadPartSize   ByteSize `yaml:"upload_part_size"`
	DownloadPartSize ByteSize `yaml:"download_part_size"`
	MaxAttempts      *int     `yaml:"max_attempts,omitempty"`
	RetryBackoff     Duration `yaml:"retry_backoff"`
}

// JournalConfig configures the transfer history journal.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dataset   string `yaml:"dataset"`
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Journal backends.
const (
	JournalFS = "fs"
	JournalS3 = "s3"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Validate rejects unknown backends and out-of-range values.
func (c *Config) Validate() error {
	sc := c.Storage.ToStorage()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if n := c.Transfer.MaxAttempts; n != nil && *n < 1 {
		return fmt.Errorf("transfer.max_attempts must be >= 1, got %d", *n)
	}
	if c.Transfer.RetryBackoff.Duration < 0 {
		return fmt.Errorf("transfer.retry_backoff must be >= 0, got %s", c.Transfer.RetryBackoff)
	}
	switch c.Journal.Backend {
	case "", JournalFS, JournalS3:
	default:
		return fmt.Errorf("journal: unknown backend %q (want fs or s3)", c.Journal.Backend)
	}
	if c.Journal.Enabled && c.Journal.Backend == JournalS3 && c.Journal.Bucket == "" {
		return errors.New("journal: s3 backend requires a bucket")
	}
	switch c.Adapter.Type {
	case "", AdapterWebhook, AdapterRedis:
	default:
		return fmt.Errorf("adapter: unknown type %q (want webhook or redis)", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return nil
}

// ToStorage converts the storage section to a storage.Config.
func (s StorageConfig) ToStorage() storage.Config {
	return storage.Config{
		Backend:         storage.Backend(s.Backend),
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		UsePathStyle:    s.PathStyle,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		SessionToken:    s.SessionToken,
		Insecure:        s.Insecure,
	}
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ByteSize is a byte count that accepts "5MiB", "100MB" or a plain integer.
type ByteSize uint64

// ParseByteSize parses a human-readable byte size.
func ParseByteSize(s string) (ByteSize, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalYAML parses a byte size scalar.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	n, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

// String renders the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
