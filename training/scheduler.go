package training

import (
	"fmt"
	"math"
)

// LRScheduler maps an epoch to a learning rate. Schedulers are pure
// functions of the epoch, so a resumed run recomputes the rate from the
// checkpointed epoch alone.
type LRScheduler interface {
	// GetLR returns the learning rate to use after epoch completed epochs.
	GetLR(epoch int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// SchedulerSpec selects and parameterizes a scheduler from configuration.
type SchedulerSpec struct {
	Name     string  `koanf:"name" yaml:"name"`
	StepSize int     `koanf:"step_size" yaml:"step_size,omitempty"`
	Gamma    float64 `koanf:"gamma" yaml:"gamma,omitempty"`
	TMax     int     `koanf:"t_max" yaml:"t_max,omitempty"`
	EtaMin   float64 `koanf:"eta_min" yaml:"eta_min,omitempty"`
	Start    int     `koanf:"start" yaml:"start,omitempty"`
}

// Build returns the scheduler named by the spec. An empty name (or
// "constant") keeps the base learning rate.
func (s SchedulerSpec) Build() (LRScheduler, error) {
	switch s.Name {
	case "", "none", "constant":
		return &NoOpScheduler{}, nil
	case "step":
		return NewStepLRScheduler(s.StepSize, s.Gamma), nil
	case "exponential":
		return NewExponentialLRScheduler(s.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(s.TMax, s.EtaMin), nil
	case "linear":
		return NewLinearDecayScheduler(s.Start, s.TMax), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", s.Name)
	}
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// LinearDecayScheduler keeps the base rate until Start, then decays it
// linearly to zero at TMax. This is the usual image-to-image GAN policy.
type LinearDecayScheduler struct {
	Start int
	TMax  int
}

// NewLinearDecayScheduler creates a linear decay scheduler
func NewLinearDecayScheduler(start, tMax int) *LinearDecayScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if start < 0 || start >= tMax {
		start = tMax / 2
	}
	return &LinearDecayScheduler{
		Start: start,
		TMax:  tMax,
	}
}

func (s *LinearDecayScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch <= s.Start {
		return baseLR
	}
	if epoch >= s.TMax {
		return 0
	}
	return baseLR * float64(s.TMax-epoch) / float64(s.TMax-s.Start)
}

func (s *LinearDecayScheduler) GetName() string {
	return "LinearDecayLR"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
