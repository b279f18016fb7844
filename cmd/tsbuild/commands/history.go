package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int    `short:"n" default:"20" help:"Number of cycles to show"`
	Path  string `help:"History database (default: history.path from the configuration)"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	path := h.Path
	if path == "" {
		cfg, err := root.load(nil)
		if err != nil {
			return err
		}
		if cfg.History.Path == "" {
			return ferrors.ConfigError("build history is not enabled (set history.path)").Build()
		}
		path = cfg.History.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Root, path)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return ferrors.NotFoundError("no build history recorded yet").WithContext("path", path).Build()
	}

	store, err := history.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return PrintHistory(context.Background(), os.Stdout, store, h.Limit)
}

// PrintHistory writes the newest cycles as a table followed by a summary.
func PrintHistory(ctx context.Context, w io.Writer, store history.Store, limit int) error {
	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	sum, err := store.Summary(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMODE\tOUTCOME\tDURATION\tREVISION\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Mode,
			r.Outcome,
			r.Duration.Round(time.Millisecond),
			shortRevision(r.Revision),
			r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d cycles, %d failed, mean %s\n",
		sum.Total, sum.Failed, sum.MeanDuration.Round(time.Millisecond))
	return nil
}

func shortRevision(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
