package tensor

import (
	"fmt"
)

// New creates a Float32 tensor over data. The slice is used directly, not copied.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    Float32,
		Data:     data,
		NumElems: numElems,
	}, nil
}

func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return New(shape, make([]float32, calculateNumElements(shape)))
}

func Full(shape []int, value float32) (*Tensor, error) {
	t, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromRows builds a [len(rows), len(rows[0])] tensor, copying the rows.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot build tensor from zero rows")
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has length %d, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return New([]int{len(rows), cols}, data)
}

// Stack joins equally shaped tensors along a new leading dimension.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := items[0]
	data := make([]float32, 0, len(items)*first.NumElems)
	for i, item := range items {
		if !sameShape(item.Shape, first.Shape) {
			return nil, fmt.Errorf("tensor %d has shape %v, expected %v", i, item.Shape, first.Shape)
		}
		data = append(data, item.Data...)
	}
	shape := append([]int{len(items)}, first.Shape...)
	return New(shape, data)
}

// Concat joins tensors along the leading dimension. Trailing dimensions must match.
func Concat(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot concatenate zero tensors")
	}
	trailing := items[0].Shape[1:]
	rows := 0
	for i, item := range items {
		if !sameShape(item.Shape[1:], trailing) {
			return nil, fmt.Errorf("tensor %d has trailing shape %v, expected %v", i, item.Shape[1:], trailing)
		}
		rows += item.Shape[0]
	}
	data := make([]float32, 0, rows*calculateNumElements(trailing))
	for _, item := range items {
		data = append(data, item.Data...)
	}
	shape := append([]int{rows}, trailing...)
	return New(shape, data)
}

func sameShape(a, b []int) bool {
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
