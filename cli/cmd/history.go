package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/persevere/cli/render"
	"github.com/pithecene-io/persevere/cli/tui"
	"github.com/pithecene-io/persevere/journal"
	"github.com/pithecene-io/persevere/types"
)

// HistoryEntry is one row of the history listing.
type HistoryEntry struct {
	TransferID string              `json:"transfer_id"`
	Direction  types.Direction     `json:"direction"`
	Event      journal.Event       `json:"event"`
	Outcome    types.OutcomeStatus `json:"outcome,omitempty"`
	Bucket     string              `json:"bucket"`
	Key        string              `json:"key"`
	LocalPath  string              `json:"local_path"`
	Parts      string              `json:"parts"`
	ObjectSize uint64              `json:"object_size"`
	StateFile  string              `json:"state_file"`
	Message    string              `json:"message,omitempty"`
	Ts         time.Time           `json:"ts"`
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded transfers, latest event first",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Only show upload or download transfers",
			},
			&cli.StringFlag{
				Name:  "transfer-id",
				Usage: "Only show this transfer",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of transfers to list (0 = all)",
				Value: 50,
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Journal directory (default from config, then ~/.persevere/journal)",
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return usageError("%v", err)
	}

	filter := journal.Filter{
		TransferID: c.String("transfer-id"),
		Limit:      c.Int("limit"),
	}
	if s := c.String("direction"); s != "" {
		if filter.Direction, err = types.ParseDirection(s); err != nil {
			return usageError("%v", err)
		}
	}
	if filter.Limit < 0 {
		return usageError("--limit must be >= 0, got %d", filter.Limit)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	target, err := resolveJournal(c, cfg, true)
	if err != nil {
		return usageError("%v", err)
	}
	factory, err := target.factory(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), ExitUnrecoverable)
	}
	ds, err := journal.NewDataset(target.dataset, factory)
	if err != nil {
		return cli.Exit(err.Error(), ExitUnrecoverable)
	}

	records, err := journal.History(c.Context, ds, filter)
	if err != nil {
		return cli.Exit(err.Error(), ExitUnrecoverable)
	}

	if c.Bool("tui") {
		if !isTerminal(os.Stdout) {
			return usageError("--tui requires an interactive terminal")
		}
		return r.RenderTUI(tui.ViewHistory, records)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry(rec))
	}
	return r.Render(entries)
}

func historyEntry(r journal.Record) HistoryEntry {
	return HistoryEntry{
		TransferID: r.TransferID,
		Direction:  r.Direction,
		Event:      r.Event,
		Outcome:    r.Outcome,
		Bucket:     r.Bucket,
		Key:        r.Key,
		LocalPath:  r.LocalPath,
		Parts:      partsProgress(r.PartsCompleted, r.PartCount),
		ObjectSize: r.ObjectSize,
		StateFile:  r.StateFile,
		Message:    r.Message,
		Ts:         r.Ts,
	}
}

func partsProgress(done, total uint64) string {
	return fmt.Sprintf("%d/%d", done, total)
}
