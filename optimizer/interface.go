// Package optimizer implements the update rules used by the reference
// models. Optimizers own per-parameter state keyed by parameter name and
// round-trip it through checkpoints so a resumed run continues exactly.
package optimizer

import (
	"fmt"
	"sort"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// Optimizer defines the common interface for all optimizers
type Optimizer interface {
	// Step applies one update. grads maps parameter names to gradients of
	// the same length; parameters without a gradient are left alone.
	Step(grads map[string][]float32) error

	// GetState extracts optimizer state for checkpointing under name.
	GetState(name string) *checkpoints.OptimizerState

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)

	// LearningRate returns the current learning rate
	LearningRate() float32
}

// Config selects an optimizer from configuration.
type Config struct {
	Name        string  `koanf:"name" yaml:"name"`
	LR          float32 `koanf:"lr" yaml:"lr"`
	Beta1       float32 `koanf:"beta1" yaml:"beta1,omitempty"`
	Beta2       float32 `koanf:"beta2" yaml:"beta2,omitempty"`
	Epsilon     float32 `koanf:"epsilon" yaml:"epsilon,omitempty"`
	Momentum    float32 `koanf:"momentum" yaml:"momentum,omitempty"`
	Nesterov    bool    `koanf:"nesterov" yaml:"nesterov,omitempty"`
	WeightDecay float32 `koanf:"weight_decay" yaml:"weight_decay,omitempty"`
	Alpha       float32 `koanf:"alpha" yaml:"alpha,omitempty"`
	Centered    bool    `koanf:"centered" yaml:"centered,omitempty"`
}

// New builds the optimizer named by config over params.
func New(config Config, params map[string]*tensor.Tensor) (Optimizer, error) {
	switch config.Name {
	case "", "adam", "Adam":
		c := DefaultAdamConfig()
		if config.LR > 0 {
			c.LearningRate = config.LR
		}
		if config.Beta1 > 0 {
			c.Beta1 = config.Beta1
		}
		if config.Beta2 > 0 {
			c.Beta2 = config.Beta2
		}
		if config.Epsilon > 0 {
			c.Epsilon = config.Epsilon
		}
		c.WeightDecay = config.WeightDecay
		return NewAdam(c, params)
	case "sgd", "SGD":
		c := DefaultSGDConfig()
		if config.LR > 0 {
			c.LearningRate = config.LR
		}
		c.Momentum = config.Momentum
		c.Nesterov = config.Nesterov
		c.WeightDecay = config.WeightDecay
		return NewSGD(c, params)
	case "rmsprop", "RMSProp":
		c := DefaultRMSPropConfig()
		if config.LR > 0 {
			c.LearningRate = config.LR
		}
		if config.Alpha > 0 {
			c.Alpha = config.Alpha
		}
		if config.Epsilon > 0 {
			c.Epsilon = config.Epsilon
		}
		c.Momentum = config.Momentum
		c.Centered = config.Centered
		c.WeightDecay = config.WeightDecay
		return NewRMSProp(c, params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", config.Name)
	}
}

// sortedNames returns the parameter names in a stable order.
func sortedNames(params map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkGrads validates gradient lengths before any parameter is touched.
func checkGrads(params map[string]*tensor.Tensor, grads map[string][]float32) error {
	for name, g := range grads {
		p, ok := params[name]
		if !ok {
			return fmt.Errorf("gradient for unknown parameter %q", name)
		}
		if len(g) != len(p.Data) {
			return fmt.Errorf("gradient length for %s is %d, parameter has %d elements", name, len(g), len(p.Data))
		}
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state == nil {
		return fmt.Errorf("no optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
