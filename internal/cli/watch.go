package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tsawler/gantrain/state"
	"github.com/tsawler/gantrain/training"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <savedir>",
		Short: "Follow a running training: new epochs, checkpoints and samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := watchSaveDir(cmd.Context(), args[0], cmd.OutOrStdout(), nil)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// watchSaveDir reports changes in savedir until ctx is done. ready, if
// non-nil, is called once the watcher is registered.
func watchSaveDir(ctx context.Context, savedir string, out io.Writer, ready func()) error {
	if _, err := os.Stat(savedir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(savedir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", savedir, err)
	}

	f := &epochFollower{savedir: savedir, out: out}
	defer f.close()

	_, _ = fmt.Fprintf(out, "watching %s\n", savedir)
	f.poll(ctx)
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			switch {
			case strings.HasPrefix(name, state.HistoryFile):
				f.poll(ctx)
			case name == training.SampleName && event.Has(fsnotify.Create):
				_, _ = fmt.Fprintf(out, "sample updated: %s\n", event.Name)
			case strings.HasPrefix(name, "checkpoint_") && event.Has(fsnotify.Create):
				_, _ = fmt.Fprintf(out, "checkpoint written: %s\n", name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_, _ = fmt.Fprintf(out, "watch error: %v\n", err)
		}
	}
}

// epochFollower prints history epochs it has not reported yet. A resumed
// run deletes epochs past its checkpoint and records them again, so an
// epoch is identified by its number and the time it was recorded.
type epochFollower struct {
	savedir string
	out     io.Writer
	store   *state.SQLiteStore
	seen    map[int]time.Time
}

func (f *epochFollower) poll(ctx context.Context) {
	if f.store == nil {
		path := state.HistoryPath(f.savedir)
		if _, err := os.Stat(path); err != nil {
			return
		}
		store := state.NewSQLiteStore()
		if err := store.Open(path); err != nil {
			return
		}
		f.store = store
	}

	epochs, err := f.store.ListEpochs(ctx)
	if err != nil {
		// The schema may not exist yet while the trainer is migrating.
		return
	}
	if f.seen == nil {
		f.seen = make(map[int]time.Time)
	}

	current := make(map[int]time.Time, len(epochs))
	for _, e := range epochs {
		current[e.Epoch] = e.RecordedAt
		if at, ok := f.seen[e.Epoch]; ok && at.Equal(e.RecordedAt) {
			continue
		}
		_, _ = fmt.Fprintf(f.out, "epoch %d: %s\n", e.Epoch, formatMetrics(e.Metrics))
	}
	f.seen = current
}

func (f *epochFollower) close() {
	if f.store != nil {
		_ = f.store.Close()
	}
}

func formatMetrics(metrics map[string]float64) string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.4f", name, metrics[name])
	}
	return strings.Join(parts, " ")
}
