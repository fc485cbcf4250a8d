package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-supcon/tensor"
	"gonum.org/v1/gonum/mat"
)

// Network executes a compiled ModelSpec on the CPU. It caches the activations
// of the most recent Forward call so that Backward can accumulate parameter
// gradients. A Network is not safe for concurrent use.
type Network struct {
	spec     *ModelSpec
	layers   []executor
	params   []*tensor.Tensor
	names    []string
	training bool
	rng      *rand.Rand
}

type executor interface {
	forward(x *mat.Dense, training bool) *mat.Dense
	backward(gradOut *mat.Dense) *mat.Dense
}

// NewNetwork instantiates spec with Xavier-uniform weights drawn from seed.
func NewNetwork(spec *ModelSpec, seed int64) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model spec must be compiled")
	}

	n := &Network{
		spec:     spec,
		training: true,
		rng:      rand.New(rand.NewSource(seed)),
	}

	for _, ls := range spec.Layers {
		switch ls.Type {
		case Dense:
			in := getIntParam(ls.Parameters, "input_size", 0)
			out := getIntParam(ls.Parameters, "output_size", 0)
			d, err := newDenseLayer(in, out, getBoolParam(ls.Parameters, "use_bias", true), n.rng)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %v", ls.Name, err)
			}
			n.layers = append(n.layers, d)
			n.params = append(n.params, d.weight)
			n.names = append(n.names, ls.Name+".weight")
			if d.bias != nil {
				n.params = append(n.params, d.bias)
				n.names = append(n.names, ls.Name+".bias")
			}
		case ReLU:
			n.layers = append(n.layers, &leakyReLULayer{slope: 0})
		case LeakyReLU:
			n.layers = append(n.layers, &leakyReLULayer{slope: float64(getFloatParam(ls.Parameters, "negative_slope", 0.01))})
		case Dropout:
			n.layers = append(n.layers, &dropoutLayer{rate: float64(getFloatParam(ls.Parameters, "rate", 0)), rng: n.rng})
		default:
			return nil, fmt.Errorf("unsupported layer type: %s", ls.Type)
		}
	}

	return n, nil
}

func (n *Network) Spec() *ModelSpec { return n.spec }

// Forward maps a [N, ...] batch to [N, EmbeddingDim] outputs.
func (n *Network) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.RowSize() != n.spec.InputFeatures() {
		return nil, fmt.Errorf("input has %d features per sample, model expects %d", x.RowSize(), n.spec.InputFeatures())
	}
	h := x.ToDense()
	for _, l := range n.layers {
		h = l.forward(h, n.training)
	}
	return tensor.FromDense(h), nil
}

// Backward propagates gradOut, the gradient of the loss with respect to the
// last Forward output, and accumulates parameter gradients.
func (n *Network) Backward(gradOut *tensor.Tensor) error {
	g := gradOut.ToDense()
	for i := len(n.layers) - 1; i >= 0; i-- {
		g = n.layers[i].backward(g)
		if g == nil {
			return fmt.Errorf("backward called before forward")
		}
	}
	return nil
}

func (n *Network) Parameters() []*tensor.Tensor { return n.params }

func (n *Network) ParameterNames() []string { return n.names }

func (n *Network) Train() { n.training = true }

func (n *Network) Eval() { n.training = false }

func (n *Network) IsTraining() bool { return n.training }

type denseLayer struct {
	weight *tensor.Tensor // [in, out]
	bias   *tensor.Tensor // [out], nil when disabled
	input  *mat.Dense
	in     int
	out    int
}

func newDenseLayer(in, out int, useBias bool, rng *rand.Rand) (*denseLayer, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid dense dimensions %dx%d", in, out)
	}
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([]float32, in*out)
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	weight, err := tensor.New([]int{in, out}, w)
	if err != nil {
		return nil, err
	}
	weight.SetRequiresGrad(true)

	d := &denseLayer{weight: weight, in: in, out: out}
	if useBias {
		bias, err := tensor.Zeros([]int{out})
		if err != nil {
			return nil, err
		}
		bias.SetRequiresGrad(true)
		d.bias = bias
	}
	return d, nil
}

func (d *denseLayer) weights() *mat.Dense {
	data := make([]float64, len(d.weight.Data))
	for i, v := range d.weight.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(d.in, d.out, data)
}

func (d *denseLayer) forward(x *mat.Dense, _ bool) *mat.Dense {
	d.input = x
	r, _ := x.Dims()
	var y mat.Dense
	y.Mul(x, d.weights())
	if d.bias != nil {
		for i := 0; i < r; i++ {
			for j := 0; j < d.out; j++ {
				y.Set(i, j, y.At(i, j)+float64(d.bias.Data[j]))
			}
		}
	}
	return &y
}

func (d *denseLayer) backward(g *mat.Dense) *mat.Dense {
	if d.input == nil {
		return nil
	}

	var dW mat.Dense
	dW.Mul(d.input.T(), g)
	wg := d.weight.EnsureGrad().Data
	for i := 0; i < d.in; i++ {
		for j := 0; j < d.out; j++ {
			wg[i*d.out+j] += float32(dW.At(i, j))
		}
	}

	if d.bias != nil {
		bg := d.bias.EnsureGrad().Data
		r, _ := g.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < d.out; j++ {
				bg[j] += float32(g.At(i, j))
			}
		}
	}

	var dx mat.Dense
	dx.Mul(g, d.weights().T())
	return &dx
}

type leakyReLULayer struct {
	slope float64
	input *mat.Dense
}

func (l *leakyReLULayer) forward(x *mat.Dense, _ bool) *mat.Dense {
	l.input = x
	var y mat.Dense
	y.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return l.slope * v
	}, x)
	return &y
}

func (l *leakyReLULayer) backward(g *mat.Dense) *mat.Dense {
	if l.input == nil {
		return nil
	}
	var dx mat.Dense
	dx.Apply(func(i, j int, v float64) float64 {
		if l.input.At(i, j) > 0 {
			return v
		}
		return l.slope * v
	}, g)
	return &dx
}

// dropoutLayer uses inverted dropout: kept activations are scaled by
// 1/(1-rate) during training and the layer is the identity in eval mode.
type dropoutLayer struct {
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func (l *dropoutLayer) forward(x *mat.Dense, training bool) *mat.Dense {
	r, c := x.Dims()
	l.mask = mat.NewDense(r, c, nil)
	if !training || l.rate == 0 {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				l.mask.Set(i, j, 1)
			}
		}
		return x
	}
	scale := 1 / (1 - l.rate)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if l.rng.Float64() >= l.rate {
				l.mask.Set(i, j, scale)
			}
		}
	}
	var y mat.Dense
	y.MulElem(x, l.mask)
	return &y
}

func (l *dropoutLayer) backward(g *mat.Dense) *mat.Dense {
	if l.mask == nil {
		return nil
	}
	var dx mat.Dense
	dx.MulElem(g, l.mask)
	return &dx
}
