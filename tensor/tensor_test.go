package tensor

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestCalculateNumElements(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{}, 0},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{2, 3, 4, 5}, 120},
	}

	for _, test := range tests {
		if result := calculateNumElements(test.shape); result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestNewValidatesLength(t *testing.T) {
	if _, err := New([]int{2, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := New([]int{0, 2}, nil); err == nil {
		t.Error("expected error for zero dimension")
	}

	tensor, err := New([]int{2, 2}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tensor.Numel() != 4 || tensor.Dim() != 2 {
		t.Errorf("unexpected tensor %s", tensor)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := MustNew([]int{3}, []float32{1, 2, 3})
	b := a.Clone()
	b.Data[0] = 42

	if a.Data[0] != 1 {
		t.Errorf("clone shares storage with original")
	}
	if a.Equal(b) {
		t.Errorf("expected tensors to differ after mutation")
	}
}

func TestConcat(t *testing.T) {
	a := MustNew([]int{1, 2}, []float32{1, 2})
	b := MustNew([]int{2, 2}, []float32{3, 4, 5, 6})

	out, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if !reflect.DeepEqual(out.Shape, []int{3, 2}) {
		t.Errorf("shape = %v, expected [3 2]", out.Shape)
	}
	if !reflect.DeepEqual(out.Data, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("data = %v", out.Data)
	}

	c := MustNew([]int{1, 3}, []float32{1, 2, 3})
	if _, err := Concat(a, c); err == nil {
		t.Error("expected trailing shape mismatch error")
	}
}

func TestRandomNormalIsSeeded(t *testing.T) {
	a, _ := RandomNormal([]int{4, 4}, 0, 0.02, rand.New(rand.NewSource(7)))
	b, _ := RandomNormal([]int{4, 4}, 0, 0.02, rand.New(rand.NewSource(7)))
	if !a.Equal(b) {
		t.Error("same seed produced different tensors")
	}
}

func TestMinMax(t *testing.T) {
	lo, hi := MustNew([]int{4}, []float32{3, -1, 7, 0}).MinMax()
	if lo != -1 || hi != 7 {
		t.Errorf("MinMax = (%v, %v), expected (-1, 7)", lo, hi)
	}
}

func TestFullAndEqual(t *testing.T) {
	a, err := Full([]int{2, 2}, 0.5)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	b := MustNew([]int{2, 2}, []float32{0.5, 0.5, 0.5, 0.5})
	if !a.Equal(b) {
		t.Errorf("Expected %v to equal %v", a.Data, b.Data)
	}

	c := MustNew([]int{4}, []float32{0.5, 0.5, 0.5, 0.5})
	if a.Equal(c) {
		t.Error("Tensors with different shapes must not be equal")
	}

	if _, err := Full([]int{2, -1}, 1); err == nil {
		t.Error("Expected an error for a negative dimension")
	}
}

func TestCopyFrom(t *testing.T) {
	dst, _ := Zeros([]int{3})
	if err := dst.CopyFrom([]float32{1, 2, 3}, []int{3}); err != nil {
		t.Fatalf("CopyFrom failed: %v", err)
	}
	if !reflect.DeepEqual(dst.Data, []float32{1, 2, 3}) {
		t.Errorf("Unexpected data %v", dst.Data)
	}
	if err := dst.CopyFrom([]float32{1, 2, 3}, []int{1, 3}); err == nil {
		t.Error("Expected a shape mismatch error")
	}
}
