package models

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/gantrain/tensor"
)

// pixelRows holds an NCHW batch as one row of C channel values per pixel,
// which is the layout the 1x1 channel-mixing layers operate on.
type pixelRows struct {
	data []float32
	m    int // rows (N*H*W)
	c    int // channels
}

func toRows(t *tensor.Tensor) (pixelRows, error) {
	if t == nil || t.Dim() != 4 {
		return pixelRows{}, fmt.Errorf("expected an NCHW batch")
	}
	n, c, p := t.Shape[0], t.Shape[1], t.Shape[2]*t.Shape[3]
	rows := make([]float32, n*p*c)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := t.Data[(i*c+ch)*p : (i*c+ch+1)*p]
			for j, v := range plane {
				rows[(i*p+j)*c+ch] = v
			}
		}
	}
	return pixelRows{data: rows, m: n * p, c: c}, nil
}

// toTensor converts rows back into an NCHW tensor of the given shape.
func (r pixelRows) toTensor(shape []int) *tensor.Tensor {
	n, c, p := shape[0], shape[1], shape[2]*shape[3]
	data := make([]float32, len(r.data))
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := data[(i*c+ch)*p : (i*c+ch+1)*p]
			for j := range plane {
				plane[j] = r.data[(i*p+j)*c+ch]
			}
		}
	}
	return tensor.MustNew(shape, data)
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// channelMLP is a per-pixel two-layer network: a tanh hidden layer
// ("encoder") followed by a tanh output layer ("decoder").
type channelMLP struct {
	channels int
	hidden   int

	encW *tensor.Tensor // [hidden, channels]
	encB *tensor.Tensor // [hidden]
	decW *tensor.Tensor // [channels, hidden]
	decB *tensor.Tensor // [channels]
}

func newChannelMLP(channels, hidden int, gain float32, rng *rand.Rand) (*channelMLP, error) {
	encW, err := tensor.RandomNormal([]int{hidden, channels}, 0, gain, rng)
	if err != nil {
		return nil, err
	}
	decW, err := tensor.RandomNormal([]int{channels, hidden}, 0, gain, rng)
	if err != nil {
		return nil, err
	}
	encB, _ := tensor.Zeros([]int{hidden})
	decB, _ := tensor.Zeros([]int{channels})

	return &channelMLP{
		channels: channels,
		hidden:   hidden,
		encW:     encW,
		encB:     encB,
		decW:     decW,
		decB:     decB,
	}, nil
}

// register adds the layer's tensors under prefix.
func (g *channelMLP) register(prefix string, params map[string]*tensor.Tensor) {
	params[prefix+".encoder.weight"] = g.encW
	params[prefix+".encoder.bias"] = g.encB
	params[prefix+".decoder.weight"] = g.decW
	params[prefix+".decoder.bias"] = g.decB
}

// clone returns a deep copy, used to seed EMA shadows.
func (g *channelMLP) clone() *channelMLP {
	return &channelMLP{
		channels: g.channels,
		hidden:   g.hidden,
		encW:     g.encW.Clone(),
		encB:     g.encB.Clone(),
		decW:     g.decW.Clone(),
		decB:     g.decB.Clone(),
	}
}

func (g *channelMLP) tensors() []*tensor.Tensor {
	return []*tensor.Tensor{g.encW, g.encB, g.decW, g.decB}
}

type mlpCache struct {
	x pixelRows
	h []float32
	y []float32
}

func (g *channelMLP) forward(x pixelRows) (pixelRows, *mlpCache) {
	c, hd := g.channels, g.hidden
	h := make([]float32, x.m*hd)
	y := make([]float32, x.m*c)

	for r := 0; r < x.m; r++ {
		xr := x.data[r*c : (r+1)*c]
		hr := h[r*hd : (r+1)*hd]
		for k := 0; k < hd; k++ {
			s := g.encB.Data[k]
			wk := g.encW.Data[k*c : (k+1)*c]
			for j := 0; j < c; j++ {
				s += wk[j] * xr[j]
			}
			hr[k] = tanh32(s)
		}

		yr := y[r*c : (r+1)*c]
		for j := 0; j < c; j++ {
			s := g.decB.Data[j]
			wj := g.decW.Data[j*hd : (j+1)*hd]
			for k := 0; k < hd; k++ {
				s += wj[k] * hr[k]
			}
			yr[j] = tanh32(s)
		}
	}

	out := pixelRows{data: y, m: x.m, c: c}
	return out, &mlpCache{x: x, h: h, y: y}
}

type mlpGrads struct {
	encW, encB, decW, decB []float32
}

func (g *channelMLP) newGrads() *mlpGrads {
	return &mlpGrads{
		encW: make([]float32, len(g.encW.Data)),
		encB: make([]float32, len(g.encB.Data)),
		decW: make([]float32, len(g.decW.Data)),
		decB: make([]float32, len(g.decB.Data)),
	}
}

func (gr *mlpGrads) export(prefix string, into map[string][]float32) {
	into[prefix+".encoder.weight"] = gr.encW
	into[prefix+".encoder.bias"] = gr.encB
	into[prefix+".decoder.weight"] = gr.decW
	into[prefix+".decoder.bias"] = gr.decB
}

// backward accumulates parameter gradients for dy into grads and returns
// the gradient with respect to the cached input.
func (g *channelMLP) backward(cache *mlpCache, dy []float32, grads *mlpGrads) []float32 {
	c, hd := g.channels, g.hidden
	x := cache.x
	dx := make([]float32, len(x.data))
	dh := make([]float32, hd)

	for r := 0; r < x.m; r++ {
		xr := x.data[r*c : (r+1)*c]
		hr := cache.h[r*hd : (r+1)*hd]
		yr := cache.y[r*c : (r+1)*c]
		dyr := dy[r*c : (r+1)*c]

		clear(dh)
		for j := 0; j < c; j++ {
			dpre := dyr[j] * (1 - yr[j]*yr[j])
			grads.decB[j] += dpre
			wj := g.decW.Data[j*hd : (j+1)*hd]
			gwj := grads.decW[j*hd : (j+1)*hd]
			for k := 0; k < hd; k++ {
				gwj[k] += dpre * hr[k]
				dh[k] += dpre * wj[k]
			}
		}

		dxr := dx[r*c : (r+1)*c]
		for k := 0; k < hd; k++ {
			dpre := dh[k] * (1 - hr[k]*hr[k])
			grads.encB[k] += dpre
			wk := g.encW.Data[k*c : (k+1)*c]
			gwk := grads.encW[k*c : (k+1)*c]
			for j := 0; j < c; j++ {
				gwk[j] += dpre * xr[j]
				dxr[j] += dpre * wk[j]
			}
		}
	}
	return dx
}

// pixelDisc scores every pixel with a linear map over channels (a 1x1
// PatchGAN).
type pixelDisc struct {
	channels int
	w        *tensor.Tensor // [1, channels]
	b        *tensor.Tensor // [1]
}

func newPixelDisc(channels int, gain float32, rng *rand.Rand) (*pixelDisc, error) {
	w, err := tensor.RandomNormal([]int{1, channels}, 0, gain, rng)
	if err != nil {
		return nil, err
	}
	b, _ := tensor.Zeros([]int{1})
	return &pixelDisc{channels: channels, w: w, b: b}, nil
}

func (d *pixelDisc) register(prefix string, params map[string]*tensor.Tensor) {
	params[prefix+".weight"] = d.w
	params[prefix+".bias"] = d.b
}

func (d *pixelDisc) forward(x pixelRows) []float32 {
	c := d.channels
	scores := make([]float32, x.m)
	for r := range scores {
		s := d.b.Data[0]
		xr := x.data[r*c : (r+1)*c]
		for j := 0; j < c; j++ {
			s += d.w.Data[j] * xr[j]
		}
		scores[r] = s
	}
	return scores
}

type discGrads struct {
	w []float32
	b []float32
}

func (d *pixelDisc) newGrads() *discGrads {
	return &discGrads{w: make([]float32, d.channels), b: make([]float32, 1)}
}

func (gr *discGrads) export(prefix string, into map[string][]float32) {
	into[prefix+".weight"] = gr.w
	into[prefix+".bias"] = gr.b
}

// backward accumulates parameter gradients when grads is non-nil and
// returns the input gradient.
func (d *pixelDisc) backward(x pixelRows, dscores []float32, grads *discGrads) []float32 {
	c := d.channels
	dx := make([]float32, len(x.data))
	for r, ds := range dscores {
		xr := x.data[r*c : (r+1)*c]
		dxr := dx[r*c : (r+1)*c]
		for j := 0; j < c; j++ {
			dxr[j] = ds * d.w.Data[j]
			if grads != nil {
				grads.w[j] += ds * xr[j]
			}
		}
		if grads != nil {
			grads.b[0] += ds
		}
	}
	return dx
}

// lsgan returns mean((s - target)^2) scaled by weight, and its gradient.
func lsgan(scores []float32, target, weight float32) (float64, []float32) {
	targets := make([]float32, len(scores))
	for i := range targets {
		targets[i] = target
	}
	return mse(scores, targets, weight)
}

// mse returns weight * mean((pred - target)^2) and its gradient.
func mse(pred, target []float32, weight float32) (float64, []float32) {
	n := float32(len(pred))
	grad := make([]float32, len(pred))
	var sum float64
	for i, p := range pred {
		diff := p - target[i]
		sum += float64(diff) * float64(diff)
		grad[i] = 2 * weight * diff / n
	}
	return float64(weight) * sum / float64(n), grad
}

func addInto(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// ema moves shadow toward current: shadow = m*shadow + (1-m)*current.
func ema(shadow, current []*tensor.Tensor, momentum float32) {
	for i, s := range shadow {
		cur := current[i].Data
		for j := range s.Data {
			s.Data[j] = momentum*s.Data[j] + (1-momentum)*cur[j]
		}
	}
}
