package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-supcon/tensor"
)

// AdamOptimizerState implements Adam with bias correction. Weight decay is
// added to the gradient (L2 style), matching torch.optim.Adam.
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient

	MomentumBuffers [][]float32 // First moment for each parameter
	VarianceBuffers [][]float32 // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64

	params []*tensor.Tensor
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*tensor.Tensor) (*AdamOptimizerState, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: make([][]float32, len(params)),
		VarianceBuffers: make([][]float32, len(params)),
		params:          params,
	}
	for i, p := range params {
		adam.MomentumBuffers[i] = make([]float32, p.NumElems)
		adam.VarianceBuffers[i] = make([]float32, p.NumElems)
	}

	return adam, nil
}

func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++

	t := float64(adam.StepCount)
	bc1 := 1 - math.Pow(float64(adam.Beta1), t)
	bc2 := 1 - math.Pow(float64(adam.Beta2), t)
	stepSize := float64(adam.LearningRate) / bc1
	b1, b2 := adam.Beta1, adam.Beta2

	for i, p := range adam.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if len(grad.Data) != len(p.Data) {
			return fmt.Errorf("gradient size %d does not match parameter %d size %d", len(grad.Data), i, len(p.Data))
		}

		m := adam.MomentumBuffers[i]
		v := adam.VarianceBuffers[i]
		for j, g := range grad.Data {
			g += adam.WeightDecay * p.Data[j]
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			denom := math.Sqrt(float64(v[j])/bc2) + float64(adam.Epsilon)
			p.Data[j] -= float32(stepSize * float64(m[j]) / denom)
		}
	}

	return nil
}

func (adam *AdamOptimizerState) ZeroGrad() {
	tensor.ZeroGrad(adam.params)
}

func (adam *AdamOptimizerState) GetLearningRate() float32 { return adam.LearningRate }

func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := exportBuffers(adam.MomentumBuffers, "m", "m")
	stateData = append(stateData, exportBuffers(adam.VarianceBuffers, "v", "v")...)

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	if err := restoreBuffers(adam.MomentumBuffers, state.StateData, "m"); err != nil {
		return err
	}
	return restoreBuffers(adam.VarianceBuffers, state.StateData, "v")
}
