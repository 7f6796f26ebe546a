package training

import (
	"math"
	"testing"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},    // Initial
		{1, 0.1},    // No change yet
		{2, 0.01},   // First reduction
		{3, 0.01},   // Same
		{4, 0.001},  // Second reduction
		{5, 0.001},  // Same
		{6, 0.0001}, // Third reduction
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},
		{1, 0.09},
		{2, 0.081},
		{3, 0.0729},
		{4, 0.06561},
		{5, 0.059049},
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01

	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},
		{5, 0.0001, 1e-6},
		{2, 0.006580, 1e-6},
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	lr := scheduler.GetLR(10, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestLinearDecayScheduler(t *testing.T) {
	scheduler := NewLinearDecayScheduler(100, 200)
	baseLR := 2e-4

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 2e-4},
		{100, 2e-4},
		{150, 1e-4},
		{200, 0},
		{250, 0},
	}

	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-12 {
			t.Errorf("Epoch %d: expected LR %g, got %g", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLRScheduler(10, 0.1), "StepLR"},
		{NewExponentialLRScheduler(0.95), "ExponentialLR"},
		{NewCosineAnnealingLRScheduler(100, 0.0), "CosineAnnealingLR"},
		{NewLinearDecayScheduler(10, 20), "LinearDecayLR"},
		{&NoOpScheduler{}, "ConstantLR"},
	}

	for _, tt := range tests {
		name := tt.scheduler.GetName()
		if name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}

func TestSchedulerSpecBuild(t *testing.T) {
	tests := []struct {
		spec     SchedulerSpec
		expected string
		wantErr  bool
	}{
		{SchedulerSpec{}, "ConstantLR", false},
		{SchedulerSpec{Name: "constant"}, "ConstantLR", false},
		{SchedulerSpec{Name: "step", StepSize: 5, Gamma: 0.5}, "StepLR", false},
		{SchedulerSpec{Name: "exponential", Gamma: 0.9}, "ExponentialLR", false},
		{SchedulerSpec{Name: "cosine", TMax: 10}, "CosineAnnealingLR", false},
		{SchedulerSpec{Name: "linear", Start: 5, TMax: 10}, "LinearDecayLR", false},
		{SchedulerSpec{Name: "plateau"}, "", true},
	}

	for _, tt := range tests {
		scheduler, err := tt.spec.Build()
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.spec.Name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.spec.Name, err)
			continue
		}
		if scheduler.GetName() != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.spec.Name, tt.expected, scheduler.GetName())
		}
	}
}
