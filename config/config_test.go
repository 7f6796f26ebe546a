package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/gantrain/checkpoints"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gantrain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.Int("epochs", 0, "")
	flags.Int("steps-per-epoch", 0, "")
	flags.String("data-root", "", "")
	flags.String("model", "", "")
	flags.String("label", "", "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", testFlags(t, "--data-root", "data"))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Epochs)
	assert.Equal(t, 50, cfg.Checkpoint)
	assert.Equal(t, 2000, cfg.StepsPerEpoch)
	assert.Equal(t, "cyclegan-linear", cfg.Model.Name)
	assert.InDelta(t, 5e-5, cfg.Optimizer.Gen.LR, 1e-12)
	assert.InDelta(t, 1e-4, cfg.Optimizer.Disc.LR, 1e-12)
	assert.Equal(t, "data", cfg.Data.Root)
	assert.True(t, cfg.Data.Shuffle)

	// savedir is derived from outdir and label.
	assert.Equal(t, "cyclegan-linear", cfg.Label)
	assert.Equal(t, filepath.Join("outdir", "cyclegan-linear"), cfg.SaveDir)
	assert.Equal(t, "outdir", cfg.TransferRoot)
	assert.Nil(t, cfg.Transfer)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
epochs: 20
steps_per_epoch: 7
label: from-file
data:
  root: /data/horse2zebra
  batch_size: 2
model:
  hidden: 4
transfer:
  base_model: pretrain
  transfer_map:
    gen_ab: encoder
    gen_ba: encoder
  strict: true
`)

	t.Setenv("GANTRAIN_EPOCHS", "30")
	t.Setenv("GANTRAIN_DATA__BATCH_SIZE", "4")

	cfg, err := Load(path, testFlags(t, "--epochs", "40"))
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Epochs, "flags beat env")
	assert.Equal(t, 4, cfg.Data.BatchSize, "env beats file")
	assert.Equal(t, 7, cfg.StepsPerEpoch, "file beats defaults")
	assert.Equal(t, 4, cfg.Model.Hidden)
	assert.Equal(t, 3, cfg.Model.Channels, "defaults fill the rest")
	assert.Equal(t, filepath.Join("outdir", "from-file"), cfg.SaveDir)

	require.NotNil(t, cfg.Transfer)
	assert.Equal(t, "pretrain", cfg.Transfer.Source)
	assert.Equal(t, map[string]string{"gen_ab": "encoder", "gen_ba": "encoder"}, cfg.Transfer.Mapping)
	assert.True(t, cfg.Transfer.Strict)
	assert.False(t, cfg.Transfer.AllowPartial)
}

func TestLoadUnsetFlagsDoNotOverride(t *testing.T) {
	path := writeConfig(t, "epochs: 12\ndata:\n  root: d\n")
	cfg, err := Load(path, testFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Epochs)
}

func TestLoadExplicitSaveDir(t *testing.T) {
	path := writeConfig(t, "savedir: /runs/x\ndata:\n  root: d\n")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/runs/x", cfg.SaveDir)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "error reading config file")

	_, err = Load(writeConfig(t, "epochs: [1, 2"), nil)
	assert.Error(t, err)

	_, err = Load("", nil)
	assert.ErrorContains(t, err, "data.root")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Epochs:     1,
			Checkpoint: 1,
			Outdir:     "out",
			Data:       DataConfig{Root: "d", BatchSize: 1, ImageSize: 8},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{"negative epochs", func(c *Config) { c.Epochs = -1 }, "epochs"},
		{"zero checkpoint", func(c *Config) { c.Checkpoint = 0 }, "checkpoint"},
		{"negative steps", func(c *Config) { c.StepsPerEpoch = -2 }, "steps_per_epoch"},
		{"no output", func(c *Config) { c.Outdir = "" }, "savedir"},
		{"format", func(c *Config) { c.CheckpointFormat = "pickle" }, "format"},
		{"scheduler", func(c *Config) { c.Scheduler.Name = "plateau" }, "scheduler"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"batch size", func(c *Config) { c.Data.BatchSize = 0 }, "batch_size"},
		{"image size", func(c *Config) { c.Data.ImageSize = 0 }, "image_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.errSubstr)
		})
	}
}

func TestTrainingConfig(t *testing.T) {
	cfg, err := Load("", testFlags(t, "--data-root", "d", "--epochs", "3"))
	require.NoError(t, err)

	tc, err := cfg.TrainingConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, tc.Epochs)
	assert.Equal(t, cfg.SaveDir, tc.SaveDir)
	assert.Equal(t, checkpoints.FormatProto, tc.Format)
	require.NoError(t, tc.Validate())

	opts := cfg.ModelOptions()
	assert.Equal(t, cfg.Seed, opts.Seed)
	assert.Equal(t, cfg.Optimizer.Gen, opts.GenOptimizer)
}

func TestWriteEffective(t *testing.T) {
	cfg, err := Load("", testFlags(t, "--data-root", "d"))
	require.NoError(t, err)
	cfg.SaveDir = filepath.Join(t.TempDir(), "run")

	path, err := cfg.WriteEffective()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.SaveDir, EffectiveName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, cfg.Epochs, decoded.Epochs)
	assert.Equal(t, cfg.Model.Name, decoded.Model.Name)
	assert.Equal(t, cfg.Data, decoded.Data)
	assert.Nil(t, decoded.Transfer)

	// The effective config can be fed back in.
	again, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.SaveDir, again.SaveDir)
}
