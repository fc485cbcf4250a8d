package optimizer

import (
	"fmt"

	"github.com/tsawler/go-supcon/tensor"
)

// SGDOptimizerState is stochastic gradient descent with optional momentum,
// Nesterov momentum and L2 weight decay
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// MomentumBuffers holds one velocity buffer per parameter when Momentum > 0
	MomentumBuffers [][]float32

	StepCount uint64

	params []*tensor.Tensor
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*tensor.Tensor) (*SGDOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	sgd := &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([][]float32, len(params))
		for i, p := range params {
			sgd.MomentumBuffers[i] = make([]float32, p.NumElems)
		}
	}

	return sgd, nil
}

func (sgd *SGDOptimizerState) Step() error {
	sgd.StepCount++

	for i, p := range sgd.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if len(grad.Data) != len(p.Data) {
			return fmt.Errorf("gradient size %d does not match parameter %d size %d", len(grad.Data), i, len(p.Data))
		}

		for j, g := range grad.Data {
			d := g + sgd.WeightDecay*p.Data[j]
			if sgd.Momentum > 0 {
				v := sgd.MomentumBuffers[i]
				v[j] = sgd.Momentum*v[j] + d
				if sgd.Nesterov {
					d += sgd.Momentum * v[j]
				} else {
					d = v[j]
				}
			}
			p.Data[j] -= sgd.LearningRate * d
		}
	}

	return nil
}

func (sgd *SGDOptimizerState) ZeroGrad() {
	tensor.ZeroGrad(sgd.params)
}

func (sgd *SGDOptimizerState) GetLearningRate() float32 { return sgd.LearningRate }

func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: exportBuffers(sgd.MomentumBuffers, "momentum", "momentum"),
	}, nil
}

func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = make([][]float32, len(sgd.params))
		for i, p := range sgd.params {
			sgd.MomentumBuffers[i] = make([]float32, p.NumElems)
		}
	}
	return restoreBuffers(sgd.MomentumBuffers, state.StateData, "momentum")
}
