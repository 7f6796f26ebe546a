package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32 // Momentum decay
	Beta2        float32 // Variance decay
	Epsilon      float32
	WeightDecay  float32 // L2 regularization coefficient
}

// DefaultAdamConfig returns the image-to-image GAN defaults.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-4,
		Beta1:        0.5,
		Beta2:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements Adam with bias correction.
type Adam struct {
	config AdamConfig
	names  []string
	params map[string]*tensor.Tensor

	momentum map[string][]float32 // first moment per parameter
	variance map[string][]float32 // second moment per parameter

	stepCount uint64
}

// NewAdam creates an Adam optimizer over params.
func NewAdam(config AdamConfig, params map[string]*tensor.Tensor) (*Adam, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1): %f, %f", config.Beta1, config.Beta2)
	}

	adam := &Adam{
		config:   config,
		names:    sortedNames(params),
		params:   params,
		momentum: make(map[string][]float32, len(params)),
		variance: make(map[string][]float32, len(params)),
	}
	for name, p := range params {
		adam.momentum[name] = make([]float32, len(p.Data))
		adam.variance[name] = make([]float32, len(p.Data))
	}
	return adam, nil
}

// Step performs a single Adam optimization step
func (adam *Adam) Step(grads map[string][]float32) error {
	if err := checkGrads(adam.params, grads); err != nil {
		return err
	}

	adam.stepCount++

	c := adam.config
	t := float64(adam.stepCount)
	correction1 := 1 - math.Pow(float64(c.Beta1), t)
	correction2 := 1 - math.Pow(float64(c.Beta2), t)
	stepSize := float32(float64(c.LearningRate) * math.Sqrt(correction2) / correction1)

	for _, name := range adam.names {
		g, ok := grads[name]
		if !ok {
			continue
		}
		w := adam.params[name].Data
		m := adam.momentum[name]
		v := adam.variance[name]
		for i := range w {
			gi := g[i] + c.WeightDecay*w[i]
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*gi
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*gi*gi
			w[i] -= stepSize * m[i] / (float32(math.Sqrt(float64(v[i]))) + c.Epsilon)
		}
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (adam *Adam) GetState(name string) *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Name: name,
		Type: "Adam",
		Step: adam.stepCount,
		Parameters: map[string]interface{}{
			"learning_rate": float64(adam.config.LearningRate),
			"beta1":         float64(adam.config.Beta1),
			"beta2":         float64(adam.config.Beta2),
			"epsilon":       float64(adam.config.Epsilon),
			"weight_decay":  float64(adam.config.WeightDecay),
		},
	}
	state.StateData = append(state.StateData, exportBuffers(adam.names, adam.params, adam.momentum, "m")...)
	state.StateData = append(state.StateData, exportBuffers(adam.names, adam.params, adam.variance, "v")...)
	return state
}

// LoadState restores optimizer state from checkpoint. Nothing changes
// unless the whole state matches the parameters.
func (adam *Adam) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	momentum, err := collectBuffers(adam.params, state.StateData, "m")
	if err != nil {
		return err
	}
	variance, err := collectBuffers(adam.params, state.StateData, "v")
	if err != nil {
		return err
	}

	adam.config.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.config.LearningRate)
	adam.config.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.config.Beta1)
	adam.config.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.config.Beta2)
	adam.config.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.config.Epsilon)
	adam.config.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.config.WeightDecay)

	adam.momentum = momentum
	adam.variance = variance
	adam.stepCount = state.Step
	return nil
}

// GetStepCount returns the current step count
func (adam *Adam) GetStepCount() uint64 {
	return adam.stepCount
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *Adam) UpdateLearningRate(lr float32) {
	adam.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (adam *Adam) LearningRate() float32 {
	return adam.config.LearningRate
}
