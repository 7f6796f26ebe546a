// Package training runs the resumable epoch loop: it resumes from the
// latest checkpoint, seeds fresh runs by weight transfer, folds per-step
// losses into running averages, records history and checkpoints on a fixed
// cadence.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/state"
	"github.com/tsawler/gantrain/transfer"
	"github.com/tsawler/gantrain/vision/grid"
)

// SampleName is the sample grid written to the save directory every epoch.
const SampleName = "sample.png"

// TrainingConfig holds configuration for training
type TrainingConfig struct {
	Epochs        int    // Last epoch to train, inclusive
	Checkpoint    int    // Save a numbered checkpoint every N epochs
	StepsPerEpoch int    // Cap on steps per epoch; 0 means a full pass
	SaveDir       string // Checkpoints, history and samples live here
	Format        checkpoints.CheckpointFormat

	// Transfer seeds a fresh run. It is ignored when resuming.
	Transfer     *transfer.Spec
	TransferRoot string
}

// Validate checks the loop parameters.
func (c TrainingConfig) Validate() error {
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0, got %d", c.Epochs)
	}
	if c.Checkpoint <= 0 {
		return fmt.Errorf("checkpoint interval must be > 0, got %d", c.Checkpoint)
	}
	if c.StepsPerEpoch < 0 {
		return fmt.Errorf("steps_per_epoch must be >= 0, got %d", c.StepsPerEpoch)
	}
	if c.SaveDir == "" {
		return fmt.Errorf("savedir is required")
	}
	return nil
}

// RunRecorder is implemented by history backends that also track runs.
type RunRecorder interface {
	CreateRun(ctx context.Context, id string, startEpoch, targetEpoch int) (*state.Run, error)
	CompleteRun(ctx context.Context, id string, status state.RunStatus, errMsg string) error
}

// Result summarizes a finished Run.
type Result struct {
	RunID      string
	StartEpoch int
	LastEpoch  int
	Gaps       []int            // history epochs missing at resume
	Transfer   *transfer.Report // nil unless transfer ran
	History    []EpochMetrics
}

// Trainer manages the training process for one save directory.
type Trainer struct {
	config   TrainingConfig
	model    Model
	stream   Stream
	store    *checkpoints.Store
	history  *History
	backend  HistoryBackend
	runID    string
	logger   *zap.Logger
	progress io.Writer
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithProgress draws a progress bar per epoch on w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.progress = w }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// NewTrainer creates a Trainer
func NewTrainer(config TrainingConfig, model Model, stream Stream, backend HistoryBackend, opts ...Option) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if model == nil || stream == nil || backend == nil {
		return nil, fmt.Errorf("trainer needs a model, a stream and a history backend")
	}

	t := &Trainer{
		config:  config,
		model:   model,
		stream:  stream,
		store:   checkpoints.NewStore(config.SaveDir, config.Format),
		backend: backend,
		runID:   uuid.New().String(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.history = NewHistory(backend, t.runID)
	t.logger = t.logger.With(zap.String("run_id", t.runID))
	return t, nil
}

// RunID returns the identifier stamped on history rows and checkpoints.
func (t *Trainer) RunID() string {
	return t.runID
}

// Run trains from the latest checkpoint up to config.Epochs and saves the
// final checkpoint. Cancellation is observed between steps; nothing from a
// partial epoch is persisted.
func (t *Trainer) Run(ctx context.Context) (res *Result, err error) {
	start, err := t.resume(ctx)
	if err != nil {
		return nil, err
	}

	res = &Result{
		RunID:      t.runID,
		StartEpoch: start,
		LastEpoch:  start,
	}

	if recorder, ok := t.backend.(RunRecorder); ok {
		if _, err := recorder.CreateRun(ctx, t.runID, start, t.config.Epochs); err != nil {
			return nil, err
		}
		defer func() {
			status, msg := state.RunStatusCompleted, ""
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				status, msg = state.RunStatusCanceled, err.Error()
			case err != nil:
				status, msg = state.RunStatusFailed, err.Error()
			}
			if cerr := recorder.CompleteRun(context.WithoutCancel(ctx), t.runID, status, msg); cerr != nil {
				t.logger.Warn("failed to record run completion", zap.Error(cerr))
			}
		}()
	}

	if start > 0 {
		res.Gaps = t.history.Gaps(start)
		if len(res.Gaps) > 0 {
			t.logger.Warn("training history has gaps before the resumed epoch",
				zap.Int("start_epoch", start),
				zap.Ints("missing_epochs", res.Gaps),
			)
		}
	}

	if start == 0 && t.config.Transfer != nil {
		report, err := t.applyTransfer()
		if err != nil {
			return res, err
		}
		res.Transfer = report
	}

	t.logger.Info("starting training",
		zap.Int("start_epoch", start),
		zap.Int("epochs", t.config.Epochs),
		zap.Int("steps_per_epoch", t.config.StepsPerEpoch),
		zap.String("savedir", t.config.SaveDir),
	)

	for epoch := start + 1; epoch <= t.config.Epochs; epoch++ {
		metrics, err := t.trainEpoch(ctx, epoch)
		if err != nil {
			return res, err
		}

		if err := t.history.EndEpoch(ctx, metrics); err != nil {
			return res, err
		}
		if err := t.model.EndEpoch(epoch); err != nil {
			return res, fmt.Errorf("epoch %d: end of epoch hook failed: %w", epoch, err)
		}

		if epoch%t.config.Checkpoint == 0 {
			if err := t.save(epoch, checkpoints.Epoch(epoch)); err != nil {
				return res, err
			}
		}
		res.LastEpoch = epoch

		t.logger.Info("epoch completed",
			zap.Int("epoch", epoch),
			zap.Int("steps", metrics.Steps),
			zap.Duration("duration", metrics.Duration),
			zap.Any("losses", metrics.Values),
		)
	}

	if err := t.save(res.LastEpoch, checkpoints.Final); err != nil {
		return res, err
	}
	res.History = t.history.Entries()

	t.logger.Info("training finished", zap.Int("last_epoch", res.LastEpoch))
	return res, nil
}

// resume restores the newest numbered checkpoint and reconciles history
// with it, returning the epoch to continue from.
func (t *Trainer) resume(ctx context.Context) (int, error) {
	start, ok, err := t.store.Discover()
	if err != nil {
		return 0, err
	}

	if ok {
		st, err := t.store.Load(checkpoints.Epoch(start))
		if err != nil {
			return 0, fmt.Errorf("failed to resume from epoch %d: %w", start, err)
		}
		if err := t.model.Restore(st); err != nil {
			return 0, fmt.Errorf("failed to restore model from epoch %d: %w", start, err)
		}
		t.logger.Info("resuming from checkpoint",
			zap.Int("epoch", start),
			zap.String("path", t.store.Path(checkpoints.Epoch(start))),
		)
	}

	entries, err := t.history.Load(ctx)
	if err != nil {
		return 0, err
	}
	stale := 0
	for _, e := range entries {
		if e.Epoch > start {
			stale++
		}
	}
	if stale > 0 {
		if _, err := t.history.TruncateAfter(ctx, start); err != nil {
			return 0, err
		}
		t.logger.Warn("discarded history recorded after the last checkpoint",
			zap.Int("start_epoch", start),
			zap.Int("entries", stale),
		)
	}

	return start, nil
}

func (t *Trainer) applyTransfer() (*transfer.Report, error) {
	target, ok := t.model.(transfer.Parameterized)
	if !ok {
		return nil, fmt.Errorf("model %T does not expose parameters for transfer", t.model)
	}

	mapper := transfer.NewMapper(t.config.TransferRoot, t.config.Format, t.logger)
	report, err := mapper.Apply(target, *t.config.Transfer)
	if err != nil {
		return nil, fmt.Errorf("transfer from %s failed: %w", t.config.Transfer.Source, err)
	}
	return report, nil
}

// trainEpoch runs one pass and returns its averaged losses.
func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (EpochMetrics, error) {
	epochStart := time.Now()
	stream := Truncate(t.stream, t.config.StepsPerEpoch)

	it, err := stream.Epoch(ctx)
	if err != nil {
		return EpochMetrics{}, fmt.Errorf("epoch %d: failed to start data pass: %w", epoch, err)
	}

	var bar *ProgressBar
	if t.progress != nil {
		bar = NewProgressBar(t.progress, fmt.Sprintf("Epoch %d / %d", epoch, t.config.Epochs), stream.Len())
	}

	metrics := NewLossMetrics()
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return EpochMetrics{}, err
		}

		batch, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return EpochMetrics{}, fmt.Errorf("epoch %d: failed to read batch %d: %w", epoch, steps+1, err)
		}
		steps++

		if err := t.model.SetInput(batch); err != nil {
			return EpochMetrics{}, &StepError{Epoch: epoch, Step: steps, Op: "set_input", Err: err}
		}
		if err := t.model.OptimizationStep(); err != nil {
			return EpochMetrics{}, &StepError{Epoch: epoch, Step: steps, Op: "optimization_step", Err: err}
		}

		metrics.Update(t.model.CurrentLosses())
		if bar != nil {
			bar.Update(steps, metrics.Values())
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if steps < stream.Len() {
		t.logger.Debug("data stream ended early",
			zap.Int("epoch", epoch),
			zap.Int("steps", steps),
			zap.Int("expected", stream.Len()),
		)
	}

	if steps > 0 {
		images := t.model.Images()
		if images.Reco != nil && images.Real != nil {
			if err := grid.SaveGrid(images.Reco, images.Real, filepath.Join(t.config.SaveDir, SampleName)); err != nil {
				return EpochMetrics{}, fmt.Errorf("epoch %d: %w", epoch, err)
			}
		}
	}

	return EpochMetrics{
		Epoch:    epoch,
		Values:   metrics.Values(),
		Steps:    steps,
		Duration: time.Since(epochStart),
	}, nil
}

// save snapshots the model and persists it under key.
func (t *Trainer) save(epoch int, key checkpoints.Key) error {
	st, err := t.model.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot model at epoch %d: %w", epoch, err)
	}
	st.Epoch = epoch
	st.Metadata.RunID = t.runID
	if st.Metadata.Description == "" {
		st.Metadata.Description = fmt.Sprintf("epoch %d", epoch)
	}

	if err := t.store.Save(st, key); err != nil {
		return err
	}
	t.logger.Info("checkpoint saved",
		zap.Stringer("key", key),
		zap.Int("epoch", epoch),
		zap.String("path", t.store.Path(key)),
	)
	return nil
}
