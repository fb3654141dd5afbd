package cmd

import (
	"errors"
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/config"
	"github.com/pithecene-io/persevere/transfer"
	"github.com/pithecene-io/persevere/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	flags := ReadOnlyFlags()

	hasTUI := false
	for _, f := range flags {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}

	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestIsTerminal(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isTerminal(os.Stderr)
}

// newTestCLIContext builds a context where only flagValues count as set.
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k, v := range flagValues {
		allFlags[k] = v
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		fs.String(name, val, "")
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"storage-region": "eu-west-1"}, nil)
	got := resolveString(c, "storage-region", "us-east-1")
	if got != "eu-west-1" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"storage-region": ""})
	got := resolveString(c, "storage-region", "us-east-1")
	if got != "us-east-1" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_FlagDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"log-level": "info"})
	got := resolveString(c, "log-level", "")
	if got != "info" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestConfigVal_NilConfig(t *testing.T) {
	got := configVal(nil, func(c *config.Config) string { return c.Log.Level })
	if got != "" {
		t.Errorf("expected zero value, got %q", got)
	}
}

func TestConfigVal_Extracts(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{Level: "debug"}}
	got := configVal(cfg, func(c *config.Config) string { return c.Log.Level })
	if got != "debug" {
		t.Errorf("expected debug, got %q", got)
	}
}

func TestResolveInt(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"max-attempts": "7"}, nil)
	if got := resolveInt(c, "max-attempts", 3); got != 7 {
		t.Errorf("expected CLI to win, got %d", got)
	}

	c = newTestCLIContext(t, nil, map[string]string{"max-attempts": "0"})
	if got := resolveInt(c, "max-attempts", 3); got != 3 {
		t.Errorf("expected fallback, got %d", got)
	}
}

func TestResolveBool(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"storage-path-style": "true"}, nil)
	if got := resolveBool(c, "storage-path-style", false); !got {
		t.Error("expected CLI to win")
	}
}

func TestResolveDuration(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"retry-backoff": "250ms"}, nil)
	if got := resolveDuration(c, "retry-backoff", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", got)
	}

	c = newTestCLIContext(t, nil, map[string]string{"retry-backoff": "0s"})
	if got := resolveDuration(c, "retry-backoff", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestIntOr(t *testing.T) {
	n := 0
	if got := intOr(&n, 3); got != 0 {
		t.Errorf("explicit zero must win, got %d", got)
	}
	if got := intOr(nil, 3); got != 3 {
		t.Errorf("expected default, got %d", got)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/a.state", `'/tmp/a.state'`},
		{"/tmp/with space", `'/tmp/with space'`},
		{"/tmp/it's", `'/tmp/it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestResumeCommand(t *testing.T) {
	got := ResumeCommand(types.DirectionDownload, "/data/big.state")
	want := "persevere download resume --state-file '/data/big.state'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExitFor(t *testing.T) {
	tests := []struct {
		name     string
		res      transfer.Result
		wantCode int
		wantMsg  []string
	}{
		{
			name:     "success",
			res:      transfer.Result{Outcome: types.TransferOutcome{Status: types.OutcomeSuccess}},
			wantCode: ExitSuccess,
		},
		{
			name:     "aborted",
			res:      transfer.Result{Outcome: types.TransferOutcome{Status: types.OutcomeAborted}},
			wantCode: ExitSuccess,
		},
		{
			name: "retryable",
			res: transfer.Result{
				Direction: types.DirectionUpload,
				StateFile: "/s/up.state",
				Outcome:   types.TransferOutcome{Status: types.OutcomeRetryableFailure, Message: "part 2: timeout"},
			},
			wantCode: ExitResumable,
			wantMsg:  []string{"part 2: timeout", "persevere upload resume --state-file '/s/up.state'"},
		},
		{
			name: "retryable abort",
			res: transfer.Result{
				Direction: types.DirectionUpload,
				StateFile: "/s/up.state",
				Aborting:  true,
				Outcome:   types.TransferOutcome{Status: types.OutcomeRetryableFailure, Message: "abort: timeout"},
			},
			wantCode: ExitResumable,
			wantMsg:  []string{"abort failed", "persevere upload abort --state-file '/s/up.state'"},
		},
		{
			name: "unrecoverable upload cancelled",
			res: transfer.Result{
				TransferID: "t-1",
				Direction:  types.DirectionUpload,
				Outcome: types.TransferOutcome{
					Status:          types.OutcomeUnrecoverableFailure,
					Message:         "source changed",
					RemoteCancelled: true,
				},
			},
			wantCode: ExitUnrecoverable,
			wantMsg:  []string{"cannot be resumed", "source changed", "was cancelled"},
		},
		{
			name: "unrecoverable upload not cancelled",
			res: transfer.Result{
				TransferID: "t-1",
				Direction:  types.DirectionUpload,
				Outcome:    types.TransferOutcome{Status: types.OutcomeUnrecoverableFailure},
			},
			wantCode: ExitUnrecoverable,
			wantMsg:  []string{"was not cancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitFor(&tt.res)
			if tt.wantCode == ExitSuccess {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			var ec cli.ExitCoder
			if !errors.As(err, &ec) {
				t.Fatalf("expected cli.ExitCoder, got %v", err)
			}
			if ec.ExitCode() != tt.wantCode {
				t.Errorf("exit code = %d, want %d", ec.ExitCode(), tt.wantCode)
			}
			for _, m := range tt.wantMsg {
				if !strings.Contains(ec.Error(), m) {
					t.Errorf("message %q missing %q", ec.Error(), m)
				}
			}
		})
	}
}

func TestExitFor_AbortDoesNotSuggestResume(t *testing.T) {
	err := exitFor(&transfer.Result{
		Direction: types.DirectionUpload,
		StateFile: "/s/up.state",
		Aborting:  true,
		Outcome:   types.TransferOutcome{Status: types.OutcomeRetryableFailure},
	})
	if strings.Contains(err.Error(), "resume") {
		t.Errorf("a failed abort should be retried as an abort: %v", err)
	}
}

func TestAbortCommand(t *testing.T) {
	got := AbortCommand(types.DirectionUpload, "/data/it's.state")
	want := `persevere upload abort --state-file '/data/it'\''s.state'`
	if got != want {
		t.Errorf("AbortCommand = %q, want %q", got, want)
	}
}

func TestExitFor_DownloadOmitsRemoteNote(t *testing.T) {
	err := exitFor(&transfer.Result{
		TransferID: "t-1",
		Direction:  types.DirectionDownload,
		Outcome:    types.TransferOutcome{Status: types.OutcomeUnrecoverableFailure, Message: "disk full"},
	})
	if strings.Contains(err.Error(), "multipart upload") {
		t.Errorf("download failure should not mention the remote upload: %v", err)
	}
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name    string
		flags   map[string]string
		cfg     *config.Config
		wantNil bool
		wantErr string
	}{
		{name: "none", flags: nil, wantNil: true},
		{name: "webhook from flags", flags: map[string]string{"adapter": "webhook", "adapter-url": "http://localhost:9/hook"}},
		{name: "redis from config", cfg: &config.Config{Adapter: config.AdapterConfig{Type: "redis", URL: "redis://localhost:6379/0"}}},
		{name: "url without type", flags: map[string]string{"adapter-url": "http://localhost:9/hook"}, wantErr: "requires --adapter"},
		{name: "unknown type", flags: map[string]string{"adapter": "sqs"}, wantErr: "unknown adapter"},
		{name: "webhook without url", flags: map[string]string{"adapter": "webhook"}, wantErr: "requires a URL"},
		{name: "negative retries", flags: map[string]string{"adapter": "webhook", "adapter-url": "http://x", "adapter-retries": "-1"}, wantErr: "retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCLIContext(t, tt.flags, nil)
			a, err := newAdapter(c, tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (a == nil) != tt.wantNil {
				t.Fatalf("adapter = %v, wantNil %v", a, tt.wantNil)
			}
			if a != nil {
				_ = a.Close()
			}
		})
	}
}

func TestStorageConfig_FlagsOverrideConfig(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{
		Backend:  "minio",
		Region:   "us-east-1",
		Endpoint: "http://minio:9000",
	}}
	c := newTestCLIContext(t, map[string]string{"storage-region": "eu-central-1"}, nil)

	sc := storageConfig(c, cfg)
	if sc.Backend != "minio" || sc.Endpoint != "http://minio:9000" {
		t.Errorf("config values lost: %+v", sc)
	}
	if sc.Region != "eu-central-1" {
		t.Errorf("region = %q, want flag value", sc.Region)
	}
}

func TestRetryPolicy_Precedence(t *testing.T) {
	one := 1
	cfg := &config.Config{Transfer: config.TransferConfig{
		MaxAttempts:  &one,
		RetryBackoff: config.Duration{Duration: time.Second},
	}}

	c := newTestCLIContext(t, nil, nil)
	p, err := retryPolicy(c, cfg)
	if err != nil || p.MaxAttempts != 1 || p.Backoff != time.Second {
		t.Errorf("expected config values, got %+v, %v", p, err)
	}

	c = newTestCLIContext(t, map[string]string{"max-attempts": "5", "retry-backoff": "0s"}, nil)
	p, err = retryPolicy(c, cfg)
	if err != nil || p.MaxAttempts != 5 || p.Backoff != 0 {
		t.Errorf("expected flag values, got %+v, %v", p, err)
	}

	p, err = retryPolicy(newTestCLIContext(t, nil, nil), nil)
	if err != nil || p.MaxAttempts != transfer.DefaultMaxAttempts || p.Backoff != 0 {
		t.Errorf("expected defaults, got %+v, %v", p, err)
	}
}

func TestRetryPolicy_RejectsInvalid(t *testing.T) {
	zero := 0
	tests := []struct {
		name  string
		flags map[string]string
		cfg   *config.Config
	}{
		{name: "zero attempts flag", flags: map[string]string{"max-attempts": "0"}},
		{name: "negative attempts flag", flags: map[string]string{"max-attempts": "-2"}},
		{name: "negative backoff flag", flags: map[string]string{"retry-backoff": "-1s"}},
		{name: "zero attempts config", cfg: &config.Config{Transfer: config.TransferConfig{MaxAttempts: &zero}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := retryPolicy(newTestCLIContext(t, tt.flags, nil), tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestResolveJournal(t *testing.T) {
	c := newTestCLIContext(t, nil, nil)
	target, err := resolveJournal(c, nil, false)
	if err != nil || target != nil {
		t.Fatalf("disabled journal should resolve to nil, got %+v, %v", target, err)
	}

	c = newTestCLIContext(t, map[string]string{"journal-path": "/var/lib/persevere"}, nil)
	target, err = resolveJournal(c, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if target.backend != config.JournalFS || target.path != "/var/lib/persevere" {
		t.Errorf("unexpected target %+v", target)
	}

	cfg := &config.Config{Journal: config.JournalConfig{Enabled: true, Backend: "s3"}}
	if _, err := resolveJournal(newTestCLIContext(t, nil, nil), cfg, false); err == nil {
		t.Error("s3 journal without a bucket should fail")
	}

	cfg.Journal.Bucket = "history"
	target, err = resolveJournal(newTestCLIContext(t, nil, nil), cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if target.backend != config.JournalS3 || target.s3.Bucket != "history" {
		t.Errorf("unexpected target %+v", target)
	}
}
