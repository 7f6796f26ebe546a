package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tsawler/gantrain/state"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <savedir>",
		Short: "Show the per-epoch losses recorded in a save directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, _ := cmd.Flags().GetBool("runs")
			if runs {
				list, err := store.ListRuns(cmd.Context())
				if err != nil {
					return err
				}
				renderRuns(cmd.OutOrStdout(), list)
				return nil
			}

			epochs, err := store.ListEpochs(cmd.Context())
			if err != nil {
				return err
			}
			renderEpochs(cmd.OutOrStdout(), epochs)
			return renderSummary(cmd, store)
		},
	}
	cmd.Flags().Bool("runs", false, "list training runs instead of epochs")
	return cmd
}

// openHistory opens an existing history database without creating one.
func openHistory(savedir string) (*state.SQLiteStore, error) {
	path := state.HistoryPath(savedir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no training history in %s: %w", savedir, err)
	}
	return state.OpenAndMigrate(path)
}

func renderEpochs(w io.Writer, epochs []state.EpochRecord) {
	if len(epochs) == 0 {
		_, _ = fmt.Fprintln(w, "(no epochs recorded)")
		return
	}

	names := metricNames(epochs)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{"Epoch", "Steps", "Duration"}
	for _, name := range names {
		header = append(header, name)
	}
	t.AppendHeader(header)

	for _, e := range epochs {
		row := table.Row{e.Epoch, e.Steps, e.Duration.Round(time.Millisecond)}
		for _, name := range names {
			if v, ok := e.Metrics[name]; ok {
				row = append(row, fmt.Sprintf("%.4f", v))
			} else {
				row = append(row, "-")
			}
		}
		t.AppendRow(row)
	}
	t.Render()
}

// renderSummary prints the last recorded epoch and the schema version.
func renderSummary(cmd *cobra.Command, store *state.SQLiteStore) error {
	last, ok, err := store.LastEpoch(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	version, err := store.MigrationVersion()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "last epoch %d (history schema v%d)\n", last, version)
	return nil
}

func renderRuns(w io.Writer, runs []*state.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no runs recorded)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Epochs", "Status", "Started", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			fmt.Sprintf("%d -> %d", r.StartEpoch, r.TargetEpoch),
			r.Status,
			r.StartedAt.Local().Format(time.DateTime),
			r.Error,
		})
	}
	t.Render()
}

// metricNames returns the union of metric names, sorted.
func metricNames(epochs []state.EpochRecord) []string {
	seen := make(map[string]bool)
	for _, e := range epochs {
		for name := range e.Metrics {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
