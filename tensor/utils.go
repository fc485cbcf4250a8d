package tensor

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Reshape returns a tensor sharing t's data under a new shape. One dimension
// may be -1 and is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := append([]int(nil), newShape...)
	known := 1
	inferIdx := -1

	for i, dim := range shape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			inferIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("dimension %d has invalid size %d", i, dim)
		default:
			known *= dim
		}
	}

	if inferIdx >= 0 {
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
		}
		shape[inferIdx] = t.NumElems / known
		known *= shape[inferIdx]
	}

	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, shape, known)
	}

	return &Tensor{
		Shape:        shape,
		Strides:      calculateStrides(shape),
		DType:        t.DType,
		Data:         t.Data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		Data:         data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
}

// Rows is the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize is the number of elements in one leading-dimension slice.
func (t *Tensor) RowSize() int {
	if t.Rows() == 0 {
		return 0
	}
	return t.NumElems / t.Shape[0]
}

// Row returns the i-th leading-dimension slice as a view into t.Data.
func (t *Tensor) Row(i int) []float32 {
	n := t.RowSize()
	return t.Data[i*n : (i+1)*n]
}

func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension %d with size %d", idx, i, t.Shape[i])
		}
		offset += idx * t.Strides[i]
	}
	return t.Data[offset], nil
}

// FirstNonFinite returns the flat index of the first NaN or Inf element, or -1.
func (t *Tensor) FirstNonFinite() int {
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

// ToDense copies t into a gonum matrix of shape [Rows, RowSize].
func (t *Tensor) ToDense() *mat.Dense {
	r, c := t.Rows(), t.RowSize()
	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(r, c, data)
}

// FromDense copies a gonum matrix into a new [r, c] tensor.
func FromDense(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	data := make([]float32, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = float32(m.At(i, j))
		}
	}
	return &Tensor{
		Shape:    []int{r, c},
		Strides:  []int{c, 1},
		DType:    Float32,
		Data:     data,
		NumElems: r * c,
	}
}

// ZeroGrad clears the gradients of every tensor that has one.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.grad == nil {
			continue
		}
		for i := range t.grad.Data {
			t.grad.Data[i] = 0
		}
	}
}

func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\nData: [")
	for i := 0; i < t.NumElems && i < maxElements; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%.4f", t.Data[i]))
	}
	if t.NumElems > maxElements {
		sb.WriteString(fmt.Sprintf(", ... (%d more elements)", t.NumElems-maxElements))
	}
	sb.WriteString("]")
	return sb.String()
}
