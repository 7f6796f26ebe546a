package training

import (
	"context"
	"fmt"
	"time"

	"github.com/tsawler/gantrain/state"
)

// EpochMetrics is the record kept for one completed epoch.
type EpochMetrics struct {
	Epoch    int
	Values   map[string]float64
	Steps    int
	Duration time.Duration
}

// HistoryBackend persists epoch records. *state.SQLiteStore implements it.
type HistoryBackend interface {
	AppendEpoch(ctx context.Context, rec state.EpochRecord) error
	ListEpochs(ctx context.Context) ([]state.EpochRecord, error)
	DeleteEpochsAfter(ctx context.Context, epoch int) (int64, error)
}

// History is the append-only, per-epoch training log of a save directory.
// Each epoch must be recorded at most once; a second EndEpoch for the same
// epoch is a caller error and is not detected.
type History struct {
	backend HistoryBackend
	runID   string
	entries []EpochMetrics
}

// NewHistory creates a history writing records tagged with runID.
func NewHistory(backend HistoryBackend, runID string) *History {
	return &History{
		backend: backend,
		runID:   runID,
	}
}

// EndEpoch appends m and persists it before returning.
func (h *History) EndEpoch(ctx context.Context, m EpochMetrics) error {
	values := make(map[string]float64, len(m.Values))
	for k, v := range m.Values {
		values[k] = v
	}
	m.Values = values

	if err := h.backend.AppendEpoch(ctx, state.EpochRecord{
		Epoch:    m.Epoch,
		RunID:    h.runID,
		Steps:    m.Steps,
		Duration: m.Duration,
		Metrics:  values,
	}); err != nil {
		return fmt.Errorf("failed to record history for epoch %d: %w", m.Epoch, err)
	}

	h.entries = append(h.entries, m)
	return nil
}

// Load replaces the in-memory log with the persisted one and returns it in
// epoch order.
func (h *History) Load(ctx context.Context) ([]EpochMetrics, error) {
	records, err := h.backend.ListEpochs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	h.entries = make([]EpochMetrics, 0, len(records))
	for _, rec := range records {
		h.entries = append(h.entries, EpochMetrics{
			Epoch:    rec.Epoch,
			Values:   rec.Metrics,
			Steps:    rec.Steps,
			Duration: rec.Duration,
		})
	}
	return h.Entries(), nil
}

// TruncateAfter drops every entry past epoch, in memory and on disk.
// Resuming from a checkpoint uses it to forget epochs that were recorded
// but never checkpointed.
func (h *History) TruncateAfter(ctx context.Context, epoch int) (int64, error) {
	removed, err := h.backend.DeleteEpochsAfter(ctx, epoch)
	if err != nil {
		return 0, err
	}

	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.Epoch <= epoch {
			kept = append(kept, e)
		}
	}
	h.entries = kept
	return removed, nil
}

// Gaps lists the epochs in [1, upTo] with no entry.
func (h *History) Gaps(upTo int) []int {
	seen := make(map[int]bool, len(h.entries))
	for _, e := range h.entries {
		seen[e.Epoch] = true
	}

	var gaps []int
	for epoch := 1; epoch <= upTo; epoch++ {
		if !seen[epoch] {
			gaps = append(gaps, epoch)
		}
	}
	return gaps
}

// Entries returns a copy of the in-memory log.
func (h *History) Entries() []EpochMetrics {
	return append([]EpochMetrics(nil), h.entries...)
}
