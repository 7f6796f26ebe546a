// Package tensor provides the dense float32 tensor shared by the data
// pipeline, the reference models and the checkpoint format.
package tensor

import (
	"fmt"
)

// Tensor is a dense, row-major float32 tensor. Image batches use NCHW layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
