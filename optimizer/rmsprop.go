package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
)

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float32
	Alpha        float32 // smoothing constant of the squared-gradient average
	Epsilon      float32
	WeightDecay  float32
	Momentum     float32
	Centered     bool // normalize by the variance instead of the raw second moment
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
	}
}

// RMSProp scales each update by a running root mean square of gradients.
type RMSProp struct {
	config RMSPropConfig
	names  []string
	params map[string]*tensor.Tensor

	squareAvg map[string][]float32
	gradAvg   map[string][]float32 // centered only
	momentum  map[string][]float32 // momentum > 0 only

	stepCount uint64
}

// NewRMSProp creates an RMSProp optimizer over params.
func NewRMSProp(config RMSPropConfig, params map[string]*tensor.Tensor) (*RMSProp, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha <= 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1), got %f", config.Alpha)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	r := &RMSProp{
		config: config,
		names:  sortedNames(params),
		params: params,
	}
	r.squareAvg = zeroBuffers(params)
	if config.Centered {
		r.gradAvg = zeroBuffers(params)
	}
	if config.Momentum > 0 {
		r.momentum = zeroBuffers(params)
	}
	return r, nil
}

func zeroBuffers(params map[string]*tensor.Tensor) map[string][]float32 {
	buffers := make(map[string][]float32, len(params))
	for name, p := range params {
		buffers[name] = make([]float32, len(p.Data))
	}
	return buffers
}

// Step performs a single RMSProp optimization step
func (r *RMSProp) Step(grads map[string][]float32) error {
	if err := checkGrads(r.params, grads); err != nil {
		return err
	}

	r.stepCount++

	c := r.config
	for _, name := range r.names {
		g, ok := grads[name]
		if !ok {
			continue
		}
		w := r.params[name].Data
		sq := r.squareAvg[name]
		for i := range w {
			gi := g[i] + c.WeightDecay*w[i]
			sq[i] = c.Alpha*sq[i] + (1-c.Alpha)*gi*gi

			avg := sq[i]
			if r.gradAvg != nil {
				ga := r.gradAvg[name]
				ga[i] = c.Alpha*ga[i] + (1-c.Alpha)*gi
				avg -= ga[i] * ga[i]
			}
			update := gi / (float32(math.Sqrt(float64(avg))) + c.Epsilon)

			if r.momentum != nil {
				buf := r.momentum[name]
				buf[i] = c.Momentum*buf[i] + update
				update = buf[i]
			}
			w[i] -= c.LearningRate * update
		}
	}
	return nil
}

// GetState extracts optimizer state for checkpointing
func (r *RMSProp) GetState(name string) *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Name: name,
		Type: "RMSProp",
		Step: r.stepCount,
		Parameters: map[string]interface{}{
			"learning_rate": float64(r.config.LearningRate),
			"alpha":         float64(r.config.Alpha),
			"epsilon":       float64(r.config.Epsilon),
			"weight_decay":  float64(r.config.WeightDecay),
			"momentum":      float64(r.config.Momentum),
			"centered":      r.config.Centered,
		},
	}
	state.StateData = exportBuffers(r.names, r.params, r.squareAvg, "square_avg")
	if r.gradAvg != nil {
		state.StateData = append(state.StateData, exportBuffers(r.names, r.params, r.gradAvg, "grad_avg")...)
	}
	if r.momentum != nil {
		state.StateData = append(state.StateData, exportBuffers(r.names, r.params, r.momentum, "momentum")...)
	}
	return state
}

// LoadState restores optimizer state from checkpoint. The buffer layout
// (centered, momentum) must match this optimizer's configuration.
func (r *RMSProp) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	squareAvg, err := collectBuffers(r.params, state.StateData, "square_avg")
	if err != nil {
		return err
	}
	var gradAvg, momentum map[string][]float32
	if r.gradAvg != nil {
		if gradAvg, err = collectBuffers(r.params, state.StateData, "grad_avg"); err != nil {
			return err
		}
	}
	if r.momentum != nil {
		if momentum, err = collectBuffers(r.params, state.StateData, "momentum"); err != nil {
			return err
		}
	}

	r.config.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", r.config.LearningRate)
	r.config.Alpha = extractFloat32Param(state.Parameters, "alpha", r.config.Alpha)
	r.config.Epsilon = extractFloat32Param(state.Parameters, "epsilon", r.config.Epsilon)
	r.config.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", r.config.WeightDecay)

	r.squareAvg = squareAvg
	if gradAvg != nil {
		r.gradAvg = gradAvg
	}
	if momentum != nil {
		r.momentum = momentum
	}
	r.stepCount = state.Step
	return nil
}

// GetStepCount returns the current step count
func (r *RMSProp) GetStepCount() uint64 {
	return r.stepCount
}

// UpdateLearningRate updates the learning rate
func (r *RMSProp) UpdateLearningRate(lr float32) {
	r.config.LearningRate = lr
}

// LearningRate returns the current learning rate
func (r *RMSProp) LearningRate() float32 {
	return r.config.LearningRate
}
