package training

import (
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-supcon/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// normEps bounds the denominator of L2 normalisation for all-zero rows
const normEps = 1e-12

// LossKind selects the contrastive objective
type LossKind int

const (
	// SupervisedContrastive treats every other row with the same label as a positive
	SupervisedContrastive LossKind = iota
	// NTXent pairs row i with row i+B in a [2B, D] batch of two views
	NTXent
)

func (k LossKind) String() string {
	switch k {
	case SupervisedContrastive:
		return "supcon"
	case NTXent:
		return "ntxent"
	default:
		return fmt.Sprintf("LossKind(%d)", int(k))
	}
}

// ParseLossKind maps a configuration string to a LossKind
func ParseLossKind(s string) (LossKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supcon", "supervised", "supervised_contrastive", "":
		return SupervisedContrastive, nil
	case "ntxent", "nt_xent", "nt-xent", "simclr":
		return NTXent, nil
	default:
		return 0, &ConfigurationError{Param: "loss", Value: s, Reason: "expected supcon or ntxent"}
	}
}

// EmbeddingBatch is the input of a loss computation. Labels are required for
// SupervisedContrastive and ignored by NTXent, whose pairing is positional.
type EmbeddingBatch struct {
	Embeddings *tensor.Tensor // [N, D]
	Labels     []int          // [N]
	Views      int            // views per original sample in the batch
}

// LossResult holds the scalar loss and its gradient with respect to the
// embeddings, ready to hand to Model.Backward
type LossResult struct {
	Value   float64
	Grad    *tensor.Tensor // [N, D]
	Anchors int            // anchors with at least one positive
}

// ContrastiveLoss computes a temperature-scaled contrastive loss over
// L2-normalised embeddings. Temperature is not clamped: values near zero
// can overflow to +Inf, which Compute reports as numerical instability.
type ContrastiveLoss struct {
	Kind        LossKind
	Temperature float64
}

// NewContrastiveLoss validates the temperature and returns the loss
func NewContrastiveLoss(kind LossKind, temperature float64) (*ContrastiveLoss, error) {
	if !(temperature > 0) || math.IsInf(temperature, 0) {
		return nil, &ConfigurationError{Param: "temperature", Value: temperature, Reason: "must be a finite positive number"}
	}
	if kind != SupervisedContrastive && kind != NTXent {
		return nil, &ConfigurationError{Param: "loss", Value: kind, Reason: "unknown loss kind"}
	}
	return &ContrastiveLoss{Kind: kind, Temperature: temperature}, nil
}

// Compute returns the mean loss over anchors that have at least one positive.
// A batch where no anchor has a positive yields zero loss and zero gradient.
// Non-finite embeddings or a non-finite result fail with
// NumericalInstabilityError rather than propagating NaN.
func (l *ContrastiveLoss) Compute(batch EmbeddingBatch) (*LossResult, error) {
	emb := batch.Embeddings
	if emb == nil || len(emb.Shape) != 2 {
		return nil, fmt.Errorf("embeddings must be a [N, D] tensor")
	}
	n := emb.Shape[0]
	if bad := emb.FirstNonFinite(); bad >= 0 {
		return nil, &NumericalInstabilityError{Stage: "embeddings", Value: float64(emb.Data[bad])}
	}

	var labels []int
	switch l.Kind {
	case SupervisedContrastive:
		if len(batch.Labels) != n {
			return nil, fmt.Errorf("got %d labels for %d embeddings", len(batch.Labels), n)
		}
		labels = batch.Labels
	case NTXent:
		if batch.Views != 2 {
			return nil, &ConfigurationError{Param: "n_views", Value: batch.Views, Reason: "NT-Xent requires exactly 2 views per sample"}
		}
		if n%2 != 0 {
			return nil, &ConfigurationError{Param: "batch_rows", Value: n, Reason: "NT-Xent requires an even number of rows"}
		}
		labels = pairLabels(n / 2)
	default:
		return nil, &ConfigurationError{Param: "loss", Value: l.Kind, Reason: "unknown loss kind"}
	}

	value, grad, anchors := supervisedContrastive(emb.ToDense(), labels, l.Temperature)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, &NumericalInstabilityError{Stage: "loss", Value: value}
	}

	return &LossResult{
		Value:   value,
		Grad:    tensor.FromDense(grad),
		Anchors: anchors,
	}, nil
}

// pairLabels gives rows i and i+b the same label, which turns the supervised
// objective into NT-Xent
func pairLabels(b int) []int {
	labels := make([]int, 2*b)
	for i := range labels {
		labels[i] = i % b
	}
	return labels
}

// supervisedContrastive evaluates
//
//	L_i = -log( sum_{p in P(i)} exp(s_ip) / sum_{a != i} exp(s_ia) ),  s = z z^T / tau
//
// with z the row-normalised x, averaged over anchors with |P(i)| > 0, and
// returns dL/dx alongside.
func supervisedContrastive(x *mat.Dense, labels []int, tau float64) (float64, *mat.Dense, int) {
	n, d := x.Dims()

	z := mat.NewDense(n, d, nil)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		norms[i] = math.Max(floats.Norm(row, 2), normEps)
		floats.ScaleTo(z.RawRowView(i), 1/norms[i], row)
	}

	var sim mat.Dense
	sim.Mul(z, z.T())
	sim.Scale(1/tau, &sim)

	// g[i][a] = dL_i/ds_ia = softmax over a != i minus softmax restricted to P(i)
	g := mat.NewDense(n, n, nil)
	e := make([]float64, n)
	total, anchors := 0.0, 0
	for i := 0; i < n; i++ {
		hasPositive := false
		for j := 0; j < n; j++ {
			if j != i && labels[j] == labels[i] {
				hasPositive = true
				break
			}
		}
		if !hasPositive {
			continue
		}
		anchors++

		s := sim.RawRowView(i)
		rowMax := math.Inf(-1)
		for a, v := range s {
			if a != i && v > rowMax {
				rowMax = v
			}
		}

		denom, num := 0.0, 0.0
		for a, v := range s {
			if a == i {
				e[a] = 0
				continue
			}
			e[a] = math.Exp(v - rowMax)
			denom += e[a]
			if labels[a] == labels[i] {
				num += e[a]
			}
		}
		total += math.Log(denom) - math.Log(num)

		gr := g.RawRowView(i)
		for a := range s {
			if a == i {
				continue
			}
			gr[a] = e[a] / denom
			if labels[a] == labels[i] {
				gr[a] -= e[a] / num
			}
		}
	}

	dx := mat.NewDense(n, d, nil)
	if anchors == 0 {
		return 0, dx, 0
	}
	scale := 1 / float64(anchors)

	var sym, dz mat.Dense
	sym.Add(g, g.T())
	dz.Mul(&sym, z)
	dz.Scale(scale/tau, &dz)

	// back through z = x / |x|
	for i := 0; i < n; i++ {
		zr, gr, out := z.RawRowView(i), dz.RawRowView(i), dx.RawRowView(i)
		dot := floats.Dot(zr, gr)
		for k := range out {
			out[k] = (gr[k] - zr[k]*dot) / norms[i]
		}
	}

	return total * scale, dx, anchors
}
