package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tsawler/gantrain/checkpoints"
)

// NewCheckpointsCommand creates the checkpoints command.
func NewCheckpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints <savedir>",
		Short: "List the checkpoints in a save directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("format")
			format, err := checkpoints.ParseFormat(name)
			if err != nil {
				return err
			}
			store := checkpoints.NewStore(args[0], format)

			epochs, hasFinal, err := store.List()
			if err != nil {
				return err
			}
			keys := make([]checkpoints.Key, 0, len(epochs)+1)
			for _, e := range epochs {
				keys = append(keys, checkpoints.Epoch(e))
			}
			if hasFinal {
				keys = append(keys, checkpoints.Final)
			}

			inspect, _ := cmd.Flags().GetBool("inspect")
			return renderCheckpoints(cmd.OutOrStdout(), store, keys, inspect)
		},
	}
	cmd.Flags().String("format", "proto", "checkpoint format (proto|json)")
	cmd.Flags().Bool("inspect", false, "load each checkpoint and show its contents")
	return cmd
}

func renderCheckpoints(w io.Writer, store *checkpoints.Store, keys []checkpoints.Key, inspect bool) error {
	if len(keys) == 0 {
		_, _ = fmt.Fprintf(w, "(no checkpoints in %s)\n", store.Dir())
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{"Key", "File", "Size", "Modified"}
	if inspect {
		header = append(header, "Epoch", "Tensors", "Optimizers", "Run")
	}
	t.AppendHeader(header)

	for _, key := range keys {
		path := store.Path(key)
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		row := table.Row{key, path, info.Size(), info.ModTime().Local().Format(time.DateTime)}

		if inspect {
			st, err := store.Load(key)
			if err != nil {
				return err
			}
			row = append(row, st.Epoch, len(st.Weights), len(st.Optimizers), st.Metadata.RunID)
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}
