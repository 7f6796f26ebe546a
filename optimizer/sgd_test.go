package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/gantrain/tensor"
)

func TestSGDStep(t *testing.T) {
	tests := []struct {
		name     string
		config   SGDConfig
		expected []float32 // w after two steps with constant gradient 1
	}{
		{"vanilla", SGDConfig{LearningRate: 0.1}, []float32{0.8}},
		{"momentum", SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []float32{0.71}},
		{"nesterov", SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}, []float32{0.539}},
		{"weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: 0.5}, []float32{0.7075}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := map[string]*tensor.Tensor{"w": tensor.MustNew([]int{1}, []float32{1})}
			sgd, err := NewSGD(tt.config, params)
			if err != nil {
				t.Fatalf("failed to create SGD: %v", err)
			}
			for i := 0; i < 2; i++ {
				if err := sgd.Step(map[string][]float32{"w": {1}}); err != nil {
					t.Fatalf("step failed: %v", err)
				}
			}
			if got := params["w"].Data[0]; math.Abs(float64(got-tt.expected[0])) > 1e-5 {
				t.Errorf("expected %v, got %v", tt.expected[0], got)
			}
		})
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	params := map[string]*tensor.Tensor{"w": tensor.MustNew([]int{2}, []float32{1, 2})}
	sgd, _ := NewSGD(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, params)
	_ = sgd.Step(map[string][]float32{"w": {1, 1}})

	state := sgd.GetState("gen")
	if state.Step != 1 || len(state.StateData) != 1 || state.StateData[0].StateType != "momentum" {
		t.Fatalf("unexpected state: %+v", state)
	}

	other, _ := NewSGD(SGDConfig{LearningRate: 0.5, Momentum: 0.5}, params)
	if err := other.LoadState(state); err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if other.LearningRate() != sgd.LearningRate() || other.GetStepCount() != 1 {
		t.Errorf("state not restored: lr %v step %d", other.LearningRate(), other.GetStepCount())
	}

	other.UpdateLearningRate(0.01)
	if other.LearningRate() != 0.01 {
		t.Errorf("expected updated lr 0.01, got %v", other.LearningRate())
	}
}
