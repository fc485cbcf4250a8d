package training

import (
	"fmt"

	"github.com/tsawler/go-supcon/tensor"
)

// Dataset interface defines methods that all datasets must implement.
// Get renders one view of a sample; implementations that augment must be
// deterministic for a given (idx, view) pair and safe for concurrent use.
type Dataset interface {
	Len() int          // Total number of samples
	Label(idx int) int // Integer class label of sample idx
	Get(idx int, view int) (*tensor.Tensor, error)
}

// Labels collects the label of every sample in ds
func Labels(ds Dataset) []int {
	labels := make([]int, ds.Len())
	for i := range labels {
		labels[i] = ds.Label(i)
	}
	return labels
}

// SimpleDataset holds pre-computed feature tensors in memory. An optional
// Augment function derives views; without it every view is the stored tensor.
type SimpleDataset struct {
	data    []*tensor.Tensor
	labels  []int
	Augment func(x *tensor.Tensor, idx, view int) (*tensor.Tensor, error)
}

// NewSimpleDataset creates a dataset from parallel data and label slices
func NewSimpleDataset(data []*tensor.Tensor, labels []int) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have same length: %d vs %d", len(data), len(labels))
	}
	for i := 1; i < len(data); i++ {
		if !sameShape(data[i].Shape, data[0].Shape) {
			return nil, fmt.Errorf("sample %d has shape %v, expected %v", i, data[i].Shape, data[0].Shape)
		}
	}
	return &SimpleDataset{data: data, labels: labels}, nil
}

func (sd *SimpleDataset) Len() int { return len(sd.data) }

func (sd *SimpleDataset) Label(idx int) int { return sd.labels[idx] }

func (sd *SimpleDataset) Get(idx int, view int) (*tensor.Tensor, error) {
	if idx < 0 || idx >= len(sd.data) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(sd.data))
	}
	if sd.Augment != nil {
		return sd.Augment(sd.data[idx], idx, view)
	}
	return sd.data[idx], nil
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
