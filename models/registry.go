// Package models holds the reference image-to-image models driven by the
// trainer. They are small pure-Go networks operating per pixel, enough to
// exercise resume, transfer and sampling end to end.
package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/optimizer"
	"github.com/tsawler/gantrain/tensor"
	"github.com/tsawler/gantrain/training"
)

// Options configures a reference model.
type Options struct {
	Name        string  `koanf:"name" yaml:"name"`
	Channels    int     `koanf:"channels" yaml:"channels"`
	Hidden      int     `koanf:"hidden" yaml:"hidden"`
	InitGain    float32 `koanf:"init_gain" yaml:"init_gain"`
	LambdaA     float32 `koanf:"lambda_a" yaml:"lambda_a"`
	LambdaB     float32 `koanf:"lambda_b" yaml:"lambda_b"`
	LambdaIdt   float32 `koanf:"lambda_idt" yaml:"lambda_idt"`
	AvgMomentum float32 `koanf:"avg_momentum" yaml:"avg_momentum"`

	// Set from the top-level configuration.
	Seed          int64                  `koanf:"-" yaml:"-"`
	GenOptimizer  optimizer.Config       `koanf:"-" yaml:"-"`
	DiscOptimizer optimizer.Config       `koanf:"-" yaml:"-"`
	Scheduler     training.SchedulerSpec `koanf:"-" yaml:"-"`
}

// Model is what every registered constructor returns.
type Model interface {
	training.Model
	Parameters() map[string]*tensor.Tensor
}

// Constructor builds a freshly initialized model.
type Constructor func(opts Options) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		"cyclegan-linear": func(opts Options) (Model, error) { return NewCycleGAN(opts) },
		"autoencoder":     func(opts Options) (Model, error) { return NewAutoencoder(opts) },
	}
)

// Register makes a model constructor available by name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the model named by opts.Name.
func New(opts Options) (Model, error) {
	registryMu.RLock()
	ctor, ok := registry[opts.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %v)", opts.Name, Names())
	}
	if opts.Channels <= 0 || opts.Hidden <= 0 {
		return nil, fmt.Errorf("model %s: channels and hidden must be > 0", opts.Name)
	}
	if opts.InitGain <= 0 {
		opts.InitGain = 0.02
	}
	return ctor(opts)
}

// Names lists the registered models.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// scheduledOptimizer pairs an optimizer with its learning rate schedule.
type scheduledOptimizer struct {
	name      string
	opt       optimizer.Optimizer
	baseLR    float32
	scheduler training.LRScheduler
}

func newScheduledOptimizer(name string, config optimizer.Config, spec training.SchedulerSpec, params map[string]*tensor.Tensor) (*scheduledOptimizer, error) {
	opt, err := optimizer.New(config, params)
	if err != nil {
		return nil, fmt.Errorf("%s optimizer: %w", name, err)
	}
	scheduler, err := spec.Build()
	if err != nil {
		return nil, err
	}
	return &scheduledOptimizer{
		name:      name,
		opt:       opt,
		baseLR:    opt.LearningRate(),
		scheduler: scheduler,
	}, nil
}

// endEpoch applies the schedule for the next epoch.
func (s *scheduledOptimizer) endEpoch(epoch int) {
	s.opt.UpdateLearningRate(float32(s.scheduler.GetLR(epoch, float64(s.baseLR))))
}

// snapshot builds checkpoint state from params (all of them, in name order)
// and the given optimizers.
func snapshot(params map[string]*tensor.Tensor, opts ...*scheduledOptimizer) *checkpoints.State {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	st := &checkpoints.State{
		Weights: checkpoints.WeightsFromTensors(names, params),
	}
	for _, o := range opts {
		st.Optimizers = append(st.Optimizers, *o.opt.GetState(o.name))
	}
	return st
}

// restore loads weights and optimizer state. Weights are validated as a
// whole before anything is written.
func restore(st *checkpoints.State, params map[string]*tensor.Tensor, opts ...*scheduledOptimizer) error {
	if err := checkpoints.LoadWeightsIntoTensors(st.Weights, params); err != nil {
		return err
	}
	for _, o := range opts {
		found := false
		for i := range st.Optimizers {
			if st.Optimizers[i].Name == o.name {
				if err := o.opt.LoadState(&st.Optimizers[i]); err != nil {
					return fmt.Errorf("%s optimizer: %w", o.name, err)
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("checkpoint has no state for optimizer %q", o.name)
		}
	}
	return nil
}

// stageBatch validates a batch against the model's channel count.
func stageBatch(b training.Batch, channels int, needB bool) (a, bb pixelRows, err error) {
	if b.A == nil || (needB && b.B == nil) {
		return a, bb, fmt.Errorf("batch is missing a domain")
	}
	if b.A.Dim() != 4 || b.A.Shape[1] != channels {
		return a, bb, fmt.Errorf("domain A batch %v does not have %d channels", b.A.Shape, channels)
	}
	if a, err = toRows(b.A); err != nil {
		return a, bb, err
	}
	if b.B != nil {
		if b.B.Dim() != 4 || b.B.Shape[1] != channels {
			return a, bb, fmt.Errorf("domain B batch %v does not have %d channels", b.B.Shape, channels)
		}
		if bb, err = toRows(b.B); err != nil {
			return a, bb, err
		}
	}
	return a, bb, nil
}
