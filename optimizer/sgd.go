package optimizer

import (
	"fmt"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// SGD implements stochastic gradient descent with optional (Nesterov)
// momentum.
type SGD struct {
	config SGDConfig
	names  []string
	params map[string]*tensor.Tensor

	// Only allocated when momentum > 0
	velocity map[string][]float32

	stepCount uint64
}

// NewSGD creates an SGD optimizer over params.
func NewSGD(config SGDConfig, params map[string]*tensor.Tensor) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	sgd := &SGD{
		config: config,
		names:  sortedNames(params),
		params: params,
	}
	if config.Momentum > 0 {
		sgd.velocity = make(map[string][]float32, len(params))
		for name, p := range params {
			sgd.velocity[name] = make([]float32, len(p.Data))
		}
	}
	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGD) Step(grads map[string][]float32) error {
	if err := checkGrads(sgd.params, grads); err != nil {
		return err
	}

	sgd.stepCount++

	c := sgd.config
	for _, name := range sgd.names {
		g, ok := grads[name]
		if !ok {
			continue
		}
		w := sgd.params[name].Data
		for i := range w {
			gi := g[i] + c.WeightDecay*w[i]
			if sgd.velocity != nil {
				v := sgd.velocity[name]
				v[i] = c.Momentum*v[i] + gi
				if c.Nesterov {
					gi += c.Momentum * v[i]
				} else {
					gi = v[i]
				}
			}
			w[i] -= c.LearningRate * gi
		}
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState(name string) *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Name: name,
		Type: "SGD",
		Step: sgd.stepCount,
		Parameters: map[string]interface{}{
			"learning_rate": float64(sgd.config.LearningRate),
			"momentum":      float64(sgd.config.Momentum),
			"weight_decay":  float64(sgd.config.WeightDecay),
			"nesterov":      sgd.config.Nesterov,
		},
	}
	if sgd.velocity != nil {
		state.StateData = exportBuffers(sgd.names, sgd.params, sgd.velocity, "momentum")
	}
	return state
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	momentum := extractFloat32Param(state.Parameters, "momentum", sgd.config.Momentum)
	var velocity map[string][]float32
	if momentum > 0 {
		var err error
		velocity, err = collectBuffers(sgd.params, state.StateData, "momentum")
		if err != nil {
			return err
		}
	}

	sgd.config.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.config.LearningRate)
	sgd.config.Momentum = momentum
	sgd.config.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.config.WeightDecay)
	sgd.config.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.config.Nesterov)
	sgd.velocity = velocity
	sgd.stepCount = state.Step
	return nil
}

// GetStepCount returns the current step count
func (sgd *SGD) GetStepCount() uint64 {
	return sgd.stepCount
}

// UpdateLearningRate updates the learning rate
func (sgd *SGD) UpdateLearningRate(lr float32) {
	sgd.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (sgd *SGD) LearningRate() float32 {
	return sgd.config.LearningRate
}
