package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense, row-major float32 array with an optional gradient slot.
// The first dimension is the batch dimension for every tensor that flows
// between a model and a loss.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)",
		t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil before the first backward pass.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// EnsureGrad allocates a zeroed gradient with the tensor's shape if none exists
// and returns it.
func (t *Tensor) EnsureGrad() *Tensor {
	if t.grad == nil {
		t.grad = &Tensor{
			Shape:    append([]int(nil), t.Shape...),
			Strides:  calculateStrides(t.Shape),
			DType:    t.DType,
			Data:     make([]float32, t.NumElems),
			NumElems: t.NumElems,
		}
	}
	return t.grad
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
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
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: at least one dimension is required")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
