package training

import (
	"github.com/tsawler/go-supcon/layers"
	"github.com/tsawler/go-supcon/optimizer"
	"github.com/tsawler/go-supcon/tensor"
)

// Model is the embedding network as seen by the training loop: a
// differentiable map from a [N, ...] batch to [N, D] embeddings.
type Model interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	// Backward takes the gradient of the loss with respect to the last
	// Forward output and accumulates parameter gradients
	Backward(gradOut *tensor.Tensor) error
	Parameters() []*tensor.Tensor // Trainable parameters in a stable order
	ParameterNames() []string     // "<layer>.<kind>" name for each parameter
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// SpecProvider is implemented by models that can describe their architecture.
// Checkpoints of such models can be reloaded without extra configuration.
type SpecProvider interface {
	Spec() *layers.ModelSpec
}

// ModelFactory builds a fresh model and optimizer for one fold. Folds never
// share parameters or optimizer state.
type ModelFactory func(fold int) (Model, optimizer.Optimizer, error)

// NetworkFactory returns a ModelFactory that instantiates spec as a CPU
// network seeded with seed+fold and pairs it with the configured optimizer.
func NetworkFactory(spec *layers.ModelSpec, optCfg optimizer.Config, seed int64) ModelFactory {
	return func(fold int) (Model, optimizer.Optimizer, error) {
		net, err := layers.NewNetwork(spec, seed+int64(fold))
		if err != nil {
			return nil, nil, err
		}
		opt, err := optimizer.New(optCfg, net.Parameters())
		if err != nil {
			return nil, nil, &ConfigurationError{Param: "optimizer", Value: optCfg.Name, Reason: err.Error()}
		}
		return net, opt, nil
	}
}

var _ Model = (*layers.Network)(nil)
