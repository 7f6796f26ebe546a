// Package checkpoints persists training state (model weights, optimizer
// state and run metadata) keyed by epoch, and discovers the latest epoch on
// restart.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsawler/gantrain/tensor"
)

// Framework and FormatVersion are stamped into every checkpoint's metadata.
const (
	Framework     = "gantrain"
	FormatVersion = "1.0.0"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "proto"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used for artifacts of this format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatJSON:
		return "json"
	default:
		return "pb"
	}
}

// ParseFormat maps a config string to a CheckpointFormat.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "proto", "pb", "protobuf":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unsupported checkpoint format: %q", s)
	}
}

// State is a complete snapshot of a training run at an epoch boundary.
type State struct {
	// Epoch is the last completed epoch. 0 means untrained.
	Epoch int `json:"epoch"`

	// Model parameters
	Weights []WeightTensor `json:"weights"`

	// Optimizer state, one entry per optimizer owned by the model
	Optimizers []OptimizerState `json:"optimizers,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"` // dotted path, e.g. "gen_ab.encoder.weight"
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (moments, step count)
// plus its hyperparameters.
type OptimizerState struct {
	Name       string                 `json:"name"` // owner, e.g. "gen" or "disc"
	Type       string                 `json:"type"` // "Adam", "SGD", ...
	Step       uint64                 `json:"step"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	StateData  []OptimizerTensor      `json:"state_data,omitempty"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", ...
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// WeightsFromTensors flattens named tensors into checkpoint weights. The
// output order follows names.
func WeightsFromTensors(names []string, params map[string]*tensor.Tensor) []WeightTensor {
	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		p := params[name]
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
		})
	}
	return weights
}

// LoadWeightsIntoTensors copies checkpoint weights into the named tensors.
// Every tensor must be present in weights with a matching shape; nothing is
// written unless all of them match.
func LoadWeightsIntoTensors(weights []WeightTensor, params map[string]*tensor.Tensor) error {
	weightMap := make(map[string]WeightTensor, len(weights))
	for _, weight := range weights {
		weightMap[weight.Name] = weight
	}

	for name, p := range params {
		weight, ok := weightMap[name]
		if !ok {
			return fmt.Errorf("checkpoint has no weight %q", name)
		}
		if !tensor.SameShape(p.Shape, weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs checkpoint %v", name, p.Shape, weight.Shape)
		}
	}

	for name, p := range params {
		weight := weightMap[name]
		if err := p.CopyFrom(weight.Data, weight.Shape); err != nil {
			return fmt.Errorf("failed to copy weight data for %s: %w", name, err)
		}
	}
	return nil
}

// validate checks the decoded state has a consistent shape.
func (s *State) validate() error {
	if s.Epoch < 0 {
		return fmt.Errorf("negative epoch %d", s.Epoch)
	}
	for _, w := range s.Weights {
		if err := checkShape(w.Name, w.Shape, len(w.Data)); err != nil {
			return err
		}
	}
	for _, o := range s.Optimizers {
		for _, st := range o.StateData {
			if err := checkShape(o.Name+"/"+st.Name, st.Shape, len(st.Data)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkShape(name string, shape []int, n int) error {
	expected := 1
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("tensor %s has invalid shape %v", name, shape)
		}
		expected *= d
	}
	if len(shape) == 0 {
		expected = 0
	}
	if expected != n {
		return fmt.Errorf("tensor %s: shape %v needs %d elements, found %d", name, shape, expected, n)
	}
	return nil
}

func encodeJSON(s *State) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return data, nil
}

func decodeJSON(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &s, nil
}
