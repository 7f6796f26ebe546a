package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsawler/gantrain/config"
	"github.com/tsawler/gantrain/internal/logging"
	"github.com/tsawler/gantrain/models"
	"github.com/tsawler/gantrain/state"
	"github.com/tsawler/gantrain/training"
	"github.com/tsawler/gantrain/vision/dataloader"
	"github.com/tsawler/gantrain/vision/dataset"
)

// NewTrainCommand creates the train command.
func NewTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model, resuming from the latest checkpoint",
		Long: `Train a model on an unpaired dataset laid out as <data-root>/<split>A and
<data-root>/<split>B.

If the save directory already holds numbered checkpoints, training resumes
after the newest one. Otherwise the model is freshly initialized and, when a
transfer section is configured, seeded from the pretrained model first.`,
		Args: cobra.NoArgs,
		RunE: runTrain,
	}

	flags := cmd.Flags()
	flags.Int("epochs", 0, "last epoch to train")
	flags.Int("checkpoint", 0, "save a numbered checkpoint every N epochs")
	flags.Int("steps-per-epoch", 0, "cap on steps per epoch (0 for a full pass)")
	flags.Int64("seed", 0, "seed for initialization and shuffling")
	flags.String("outdir", "", "root of all save directories")
	flags.String("label", "", "run label; the save directory is <outdir>/<label>")
	flags.String("savedir", "", "explicit save directory")
	flags.String("checkpoint-format", "", "checkpoint format (proto|json)")
	flags.String("model", "", fmt.Sprintf("model name %v", models.Names()))
	flags.String("data-root", "", "dataset root directory")
	flags.Bool("progress", true, "draw a progress bar per epoch")

	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, err := cfg.WriteEffective()
	if err != nil {
		return err
	}
	logger.Debug("effective configuration written", zap.String("path", path))

	ds, err := dataset.NewUnpaired(cfg.Data.Root, cfg.Data.Split, nil)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded", zap.Stringer("dataset", ds))

	loader, err := dataloader.NewDataLoader(ds, dataloader.Config{
		BatchSize:    cfg.Data.BatchSize,
		ImageSize:    cfg.Data.ImageSize,
		Channels:     cfg.Model.Channels,
		Shuffle:      cfg.Data.Shuffle,
		Seed:         cfg.Seed,
		MaxCacheSize: cfg.Data.CacheSize,
		NumWorkers:   cfg.Data.Workers,
	})
	if err != nil {
		return err
	}

	model, err := models.New(cfg.ModelOptions())
	if err != nil {
		return err
	}

	history, err := state.OpenAndMigrate(state.HistoryPath(cfg.SaveDir))
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	tc, err := cfg.TrainingConfig()
	if err != nil {
		return err
	}

	opts := []training.Option{training.WithLogger(logger)}
	if cfg.Progress {
		opts = append(opts, training.WithProgress(os.Stderr))
	}
	trainer, err := training.NewTrainer(tc, model, loader, history, opts...)
	if err != nil {
		return err
	}

	res, err := trainer.Run(cmd.Context())
	if err != nil {
		return err
	}

	logger.Debug("data cache", zap.String("stats", loader.Stats()))
	out := cmd.OutOrStdout()
	if res.LastEpoch == res.StartEpoch {
		_, _ = fmt.Fprintf(out, "%s is already at epoch %d\n", cfg.SaveDir, res.LastEpoch)
		return nil
	}
	_, _ = fmt.Fprintf(out, "trained epochs %d-%d in %s (run %s)\n",
		res.StartEpoch+1, res.LastEpoch, cfg.SaveDir, res.RunID)
	return nil
}
