package models

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
	"github.com/tsawler/gantrain/training"
)

// Autoencoder learns to reconstruct images of both domains with a single
// network under the group "encoder". Its weights are the usual transfer
// source for the CycleGAN generators.
type Autoencoder struct {
	opts   Options
	net    *channelMLP
	gen    *scheduledOptimizer
	params map[string]*tensor.Tensor

	batch  training.Batch
	realA  pixelRows
	realB  pixelRows
	losses map[string]float64
	images training.Images
}

// NewAutoencoder creates an autoencoder initialized from opts.Seed.
func NewAutoencoder(opts Options) (*Autoencoder, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	net, err := newChannelMLP(opts.Channels, opts.Hidden, opts.InitGain, rng)
	if err != nil {
		return nil, err
	}

	params := make(map[string]*tensor.Tensor)
	net.register("encoder", params)

	gen, err := newScheduledOptimizer("gen", opts.GenOptimizer, opts.Scheduler, params)
	if err != nil {
		return nil, err
	}

	return &Autoencoder{
		opts:   opts,
		net:    net,
		gen:    gen,
		params: params,
	}, nil
}

// Parameters returns every tensor by dotted name.
func (m *Autoencoder) Parameters() map[string]*tensor.Tensor {
	return m.params
}

func (m *Autoencoder) SetInput(batch training.Batch) error {
	a, b, err := stageBatch(batch, m.opts.Channels, false)
	if err != nil {
		return err
	}
	m.batch, m.realA, m.realB = batch, a, b
	return nil
}

func (m *Autoencoder) OptimizationStep() error {
	if m.batch.A == nil {
		return fmt.Errorf("no input staged")
	}

	grads := m.net.newGrads()
	recA, cacheA := m.net.forward(m.realA)
	lossA, dRecA := mse(recA.data, m.realA.data, 1)
	m.net.backward(cacheA, dRecA, grads)

	losses := map[string]float64{"reco_a": lossA}
	if m.realB.m > 0 {
		recB, cacheB := m.net.forward(m.realB)
		lossB, dRecB := mse(recB.data, m.realB.data, 1)
		m.net.backward(cacheB, dRecB, grads)
		losses["reco_b"] = lossB
	}

	named := make(map[string][]float32)
	grads.export("encoder", named)
	if err := m.gen.opt.Step(named); err != nil {
		return err
	}

	m.losses = losses
	m.images = training.Images{
		Reco: recA.toTensor(m.batch.A.Shape),
		Real: m.batch.A,
	}
	return nil
}

func (m *Autoencoder) CurrentLosses() map[string]float64 {
	return m.losses
}

func (m *Autoencoder) EndEpoch(epoch int) error {
	m.gen.endEpoch(epoch)
	return nil
}

func (m *Autoencoder) Snapshot() (*checkpoints.State, error) {
	return snapshot(m.params, m.gen), nil
}

func (m *Autoencoder) Restore(st *checkpoints.State) error {
	return restore(st, m.params, m.gen)
}

func (m *Autoencoder) Images() training.Images {
	return m.images
}
