package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use a
// double underscore: GANTRAIN_DATA__BATCH_SIZE sets data.batch_size.
const EnvPrefix = "GANTRAIN_"

// Defaults follow the reference image-to-image training recipe.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"epochs":            500,
		"checkpoint":        50,
		"steps_per_epoch":   2000,
		"seed":              0,
		"log_level":         "info",
		"log_format":        "auto",
		"progress":          true,
		"outdir":            "outdir",
		"checkpoint_format": "proto",

		"model.name":         "cyclegan-linear",
		"model.channels":     3,
		"model.hidden":       16,
		"model.init_gain":    0.02,
		"model.lambda_a":     10.0,
		"model.lambda_b":     10.0,
		"model.lambda_idt":   0.5,
		"model.avg_momentum": 0.9999,

		"optimizer.gen.name":   "adam",
		"optimizer.gen.lr":     5e-5,
		"optimizer.gen.beta1":  0.5,
		"optimizer.gen.beta2":  0.99,
		"optimizer.disc.name":  "adam",
		"optimizer.disc.lr":    1e-4,
		"optimizer.disc.beta1": 0.5,
		"optimizer.disc.beta2": 0.99,

		"scheduler.name": "constant",

		"data.split":      "train",
		"data.image_size": 64,
		"data.batch_size": 1,
		"data.shuffle":    true,
		"data.cache_size": 256,
		"data.workers":    4,
	}
}

// flagKeys maps flag names whose config key is not the snake_case form of
// the flag.
var flagKeys = map[string]string{
	"model":     "model.name",
	"data-root": "data.root",
	"data":      "data.root",
}

// Load builds the configuration. Precedence, highest first: flags that were
// explicitly set, environment, cfgFile, defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps GANTRAIN_DATA__BATCH_SIZE to data.batch_size.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
