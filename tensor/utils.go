package tensor

import (
	"fmt"
	"math"
)

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  data,
	}
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int {
	return len(t.Data)
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both tensors have the same shape and bit-identical data.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || !SameShape(t.Shape, other.Shape) {
		return false
	}
	for i := range t.Data {
		if math.Float32bits(t.Data[i]) != math.Float32bits(other.Data[i]) {
			return false
		}
	}
	return true
}

// CopyFrom overwrites t's data with src's. Shapes must match.
func (t *Tensor) CopyFrom(src []float32, shape []int) error {
	if !SameShape(t.Shape, shape) {
		return fmt.Errorf("shape mismatch: tensor %v vs source %v", t.Shape, shape)
	}
	copy(t.Data, src)
	return nil
}

// Concat joins tensors along the first (sample) axis. All trailing dimensions
// must agree.
func Concat(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	first := tensors[0]
	if first.Dim() == 0 {
		return nil, fmt.Errorf("cannot concat scalar tensors")
	}

	total := 0
	for i, t := range tensors {
		if !SameShape(t.Shape[1:], first.Shape[1:]) {
			return nil, fmt.Errorf("concat shape mismatch at input %d: %v vs %v", i, t.Shape, first.Shape)
		}
		total += t.Shape[0]
	}

	data := make([]float32, 0, total*calculateNumElements(first.Shape[1:]))
	for _, t := range tensors {
		data = append(data, t.Data...)
	}

	shape := append([]int{total}, first.Shape[1:]...)
	return New(shape, data)
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (float32, float32) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	lo, hi := t.Data[0], t.Data[0]
	for _, v := range t.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
