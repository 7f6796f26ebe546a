// Package config loads the training configuration from defaults, a YAML
// file, GANTRAIN_ environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/internal/fsx"
	"github.com/tsawler/gantrain/models"
	"github.com/tsawler/gantrain/optimizer"
	"github.com/tsawler/gantrain/training"
	"github.com/tsawler/gantrain/transfer"
)

// EffectiveName is the file the resolved configuration is written to inside
// the save directory.
const EffectiveName = "config.yaml"

// Config is the full configuration of one training run.
type Config struct {
	Epochs        int   `koanf:"epochs" yaml:"epochs"`
	Checkpoint    int   `koanf:"checkpoint" yaml:"checkpoint"`
	StepsPerEpoch int   `koanf:"steps_per_epoch" yaml:"steps_per_epoch"`
	Seed          int64 `koanf:"seed" yaml:"seed"`

	LogLevel  string `koanf:"log_level" yaml:"log_level"`
	LogFormat string `koanf:"log_format" yaml:"log_format"`
	Progress  bool   `koanf:"progress" yaml:"progress"`

	Outdir           string `koanf:"outdir" yaml:"outdir"`
	Label            string `koanf:"label" yaml:"label"`
	SaveDir          string `koanf:"savedir" yaml:"savedir"`
	CheckpointFormat string `koanf:"checkpoint_format" yaml:"checkpoint_format"`

	Model     models.Options         `koanf:"model" yaml:"model"`
	Optimizer OptimizerConfig        `koanf:"optimizer" yaml:"optimizer"`
	Scheduler training.SchedulerSpec `koanf:"scheduler" yaml:"scheduler"`
	Data      DataConfig             `koanf:"data" yaml:"data"`

	// Transfer is applied only when a run starts from scratch. Source
	// models are resolved against TransferRoot, which defaults to Outdir.
	Transfer     *transfer.Spec `koanf:"transfer" yaml:"transfer,omitempty"`
	TransferRoot string         `koanf:"transfer_root" yaml:"transfer_root"`
}

// OptimizerConfig holds the generator and discriminator optimizers.
type OptimizerConfig struct {
	Gen  optimizer.Config `koanf:"gen" yaml:"gen"`
	Disc optimizer.Config `koanf:"disc" yaml:"disc"`
}

// DataConfig describes the unpaired image dataset.
type DataConfig struct {
	Root      string `koanf:"root" yaml:"root"`
	Split     string `koanf:"split" yaml:"split"`
	ImageSize int    `koanf:"image_size" yaml:"image_size"`
	BatchSize int    `koanf:"batch_size" yaml:"batch_size"`
	Shuffle   bool   `koanf:"shuffle" yaml:"shuffle"`
	CacheSize int    `koanf:"cache_size" yaml:"cache_size"`
	Workers   int    `koanf:"workers" yaml:"workers"`
}

// Validate checks the configuration after loading.
func (c *Config) Validate() error {
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be >= 0, got %d", c.Epochs)
	}
	if c.Checkpoint <= 0 {
		return fmt.Errorf("checkpoint must be > 0, got %d", c.Checkpoint)
	}
	if c.StepsPerEpoch < 0 {
		return fmt.Errorf("steps_per_epoch must be >= 0, got %d", c.StepsPerEpoch)
	}
	if c.SaveDir == "" && c.Outdir == "" {
		return fmt.Errorf("either savedir or outdir must be set")
	}
	if _, err := checkpoints.ParseFormat(c.CheckpointFormat); err != nil {
		return err
	}
	if _, err := c.Scheduler.Build(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if c.Data.Root == "" {
		return fmt.Errorf("data.root is required")
	}
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("data.batch_size must be > 0, got %d", c.Data.BatchSize)
	}
	if c.Data.ImageSize <= 0 {
		return fmt.Errorf("data.image_size must be > 0, got %d", c.Data.ImageSize)
	}
	if c.Transfer != nil {
		if err := c.Transfer.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// resolve fills in the derived fields.
func (c *Config) resolve() {
	if c.Label == "" {
		c.Label = c.Model.Name
	}
	if c.SaveDir == "" {
		c.SaveDir = filepath.Join(c.Outdir, c.Label)
	}
	if c.TransferRoot == "" {
		c.TransferRoot = c.Outdir
	}
}

// ModelOptions returns the model options with the run-level settings
// (seed, optimizers, schedule) filled in.
func (c *Config) ModelOptions() models.Options {
	opts := c.Model
	opts.Seed = c.Seed
	opts.GenOptimizer = c.Optimizer.Gen
	opts.DiscOptimizer = c.Optimizer.Disc
	opts.Scheduler = c.Scheduler
	return opts
}

// TrainingConfig converts the run configuration into trainer settings.
func (c *Config) TrainingConfig() (training.TrainingConfig, error) {
	format, err := checkpoints.ParseFormat(c.CheckpointFormat)
	if err != nil {
		return training.TrainingConfig{}, err
	}
	return training.TrainingConfig{
		Epochs:        c.Epochs,
		Checkpoint:    c.Checkpoint,
		StepsPerEpoch: c.StepsPerEpoch,
		SaveDir:       c.SaveDir,
		Format:        format,
		Transfer:      c.Transfer,
		TransferRoot:  c.TransferRoot,
	}, nil
}

// WriteEffective writes the resolved configuration to savedir/config.yaml.
func (c *Config) WriteEffective() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(c.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create savedir: %w", err)
	}
	path := filepath.Join(c.SaveDir, EffectiveName)
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
