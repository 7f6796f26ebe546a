package models

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/gantrain/checkpoints"
	"github.com/tsawler/gantrain/tensor"
	"github.com/tsawler/gantrain/training"
)

// CycleGAN translates between two unpaired domains with generators gen_ab
// and gen_ba, least-squares discriminators disc_a and disc_b, cycle and
// identity losses, and EMA shadows avg_gen_ab and avg_gen_ba.
type CycleGAN struct {
	opts Options

	genAB, genBA       *channelMLP
	avgGenAB, avgGenBA *channelMLP
	discA, discB       *pixelDisc

	gen  *scheduledOptimizer
	disc *scheduledOptimizer

	params map[string]*tensor.Tensor

	batch  training.Batch
	realA  pixelRows
	realB  pixelRows
	losses map[string]float64
	images training.Images
}

// NewCycleGAN creates a CycleGAN initialized from opts.Seed.
func NewCycleGAN(opts Options) (*CycleGAN, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	if opts.AvgMomentum <= 0 || opts.AvgMomentum >= 1 {
		opts.AvgMomentum = 0.9999
	}

	m := &CycleGAN{opts: opts}
	var err error
	if m.genAB, err = newChannelMLP(opts.Channels, opts.Hidden, opts.InitGain, rng); err != nil {
		return nil, err
	}
	if m.genBA, err = newChannelMLP(opts.Channels, opts.Hidden, opts.InitGain, rng); err != nil {
		return nil, err
	}
	if m.discA, err = newPixelDisc(opts.Channels, opts.InitGain, rng); err != nil {
		return nil, err
	}
	if m.discB, err = newPixelDisc(opts.Channels, opts.InitGain, rng); err != nil {
		return nil, err
	}
	m.avgGenAB = m.genAB.clone()
	m.avgGenBA = m.genBA.clone()

	genParams := make(map[string]*tensor.Tensor)
	m.genAB.register("gen_ab", genParams)
	m.genBA.register("gen_ba", genParams)
	discParams := make(map[string]*tensor.Tensor)
	m.discA.register("disc_a", discParams)
	m.discB.register("disc_b", discParams)

	if m.gen, err = newScheduledOptimizer("gen", opts.GenOptimizer, opts.Scheduler, genParams); err != nil {
		return nil, err
	}
	if m.disc, err = newScheduledOptimizer("disc", opts.DiscOptimizer, opts.Scheduler, discParams); err != nil {
		return nil, err
	}

	m.params = make(map[string]*tensor.Tensor)
	for k, v := range genParams {
		m.params[k] = v
	}
	for k, v := range discParams {
		m.params[k] = v
	}
	m.avgGenAB.register("avg_gen_ab", m.params)
	m.avgGenBA.register("avg_gen_ba", m.params)
	return m, nil
}

// Parameters returns every tensor by dotted name, EMA shadows included.
func (m *CycleGAN) Parameters() map[string]*tensor.Tensor {
	return m.params
}

func (m *CycleGAN) SetInput(batch training.Batch) error {
	a, b, err := stageBatch(batch, m.opts.Channels, true)
	if err != nil {
		return err
	}
	if a.m != b.m {
		return fmt.Errorf("unpaired batches must have the same size: %v vs %v", batch.A.Shape, batch.B.Shape)
	}
	m.batch, m.realA, m.realB = batch, a, b
	return nil
}

func (m *CycleGAN) OptimizationStep() error {
	if m.batch.A == nil {
		return fmt.Errorf("no input staged")
	}
	if m.gen.opt.GetStepCount() == 0 {
		// Start the shadows from the initial (possibly transferred) weights.
		copyTensors(m.avgGenAB.tensors(), m.genAB.tensors())
		copyTensors(m.avgGenBA.tensors(), m.genBA.tensors())
	}

	o := m.opts
	realA, realB := m.realA, m.realB

	fakeB, cFakeB := m.genAB.forward(realA)
	recA, cRecA := m.genBA.forward(fakeB)
	fakeA, cFakeA := m.genBA.forward(realB)
	recB, cRecB := m.genAB.forward(fakeA)

	abGrads, baGrads := m.genAB.newGrads(), m.genBA.newGrads()

	// Adversarial terms; discriminator weights are held fixed here.
	scoresFakeB := m.discB.forward(fakeB)
	lossGenAB, dScoresB := lsgan(scoresFakeB, 1, 1)
	dFakeB := m.discB.backward(fakeB, dScoresB, nil)

	scoresFakeA := m.discA.forward(fakeA)
	lossGenBA, dScoresA := lsgan(scoresFakeA, 1, 1)
	dFakeA := m.discA.backward(fakeA, dScoresA, nil)

	// Cycle consistency.
	lossCycleA, dRecA := mse(recA.data, realA.data, o.LambdaA)
	addInto(dFakeB, m.genBA.backward(cRecA, dRecA, baGrads))
	lossCycleB, dRecB := mse(recB.data, realB.data, o.LambdaB)
	addInto(dFakeA, m.genAB.backward(cRecB, dRecB, abGrads))

	m.genAB.backward(cFakeB, dFakeB, abGrads)
	m.genBA.backward(cFakeA, dFakeA, baGrads)

	losses := map[string]float64{
		"gen_ab":  lossGenAB,
		"gen_ba":  lossGenBA,
		"cycle_a": lossCycleA,
		"cycle_b": lossCycleB,
	}

	if o.LambdaIdt > 0 {
		idtB, cIdtB := m.genAB.forward(realB)
		lossIdtA, dIdtB := mse(idtB.data, realB.data, o.LambdaB*o.LambdaIdt)
		m.genAB.backward(cIdtB, dIdtB, abGrads)

		idtA, cIdtA := m.genBA.forward(realA)
		lossIdtB, dIdtA := mse(idtA.data, realA.data, o.LambdaA*o.LambdaIdt)
		m.genBA.backward(cIdtA, dIdtA, baGrads)

		losses["idt_a"] = lossIdtA
		losses["idt_b"] = lossIdtB
	}

	genGrads := make(map[string][]float32)
	abGrads.export("gen_ab", genGrads)
	baGrads.export("gen_ba", genGrads)

	// Discriminators see the fakes produced before the generator update.
	discAGrads, discBGrads := m.discA.newGrads(), m.discB.newGrads()
	lossDiscB := m.discStep(m.discB, realB, fakeB, scoresFakeB, discBGrads)
	lossDiscA := m.discStep(m.discA, realA, fakeA, scoresFakeA, discAGrads)
	discGrads := make(map[string][]float32)
	discAGrads.export("disc_a", discGrads)
	discBGrads.export("disc_b", discGrads)

	if err := m.gen.opt.Step(genGrads); err != nil {
		return err
	}
	if err := m.disc.opt.Step(discGrads); err != nil {
		return err
	}

	ema(m.avgGenAB.tensors(), m.genAB.tensors(), o.AvgMomentum)
	ema(m.avgGenBA.tensors(), m.genBA.tensors(), o.AvgMomentum)

	losses["disc_a"] = lossDiscA
	losses["disc_b"] = lossDiscB
	m.losses = losses
	m.images = training.Images{
		Reco: recA.toTensor(m.batch.A.Shape),
		Real: m.batch.A,
	}
	return nil
}

// discStep accumulates the least-squares discriminator gradient and
// returns its loss.
func (m *CycleGAN) discStep(d *pixelDisc, real, fake pixelRows, fakeScores []float32, grads *discGrads) float64 {
	lossReal, dReal := lsgan(d.forward(real), 1, 0.5)
	lossFake, dFake := lsgan(fakeScores, 0, 0.5)
	d.backward(real, dReal, grads)
	d.backward(fake, dFake, grads)
	return lossReal + lossFake
}

func (m *CycleGAN) CurrentLosses() map[string]float64 {
	return m.losses
}

func (m *CycleGAN) EndEpoch(epoch int) error {
	m.gen.endEpoch(epoch)
	m.disc.endEpoch(epoch)
	return nil
}

func (m *CycleGAN) Snapshot() (*checkpoints.State, error) {
	return snapshot(m.params, m.gen, m.disc), nil
}

func (m *CycleGAN) Restore(st *checkpoints.State) error {
	return restore(st, m.params, m.gen, m.disc)
}

func (m *CycleGAN) Images() training.Images {
	return m.images
}

func copyTensors(dst, src []*tensor.Tensor) {
	for i, t := range dst {
		copy(t.Data, src[i].Data)
	}
}
