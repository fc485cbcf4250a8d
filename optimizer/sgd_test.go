package optimizer

import (
	"math"
	"testing"

	"github.com/tsawler/go-supcon/tensor"
)

func paramWithGrad(t *testing.T, values, grads []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.New([]int{len(values)}, append([]float32(nil), values...))
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	p.SetRequiresGrad(true)
	copy(p.EnsureGrad().Data, grads)
	return p
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestSGDConfigValidation(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, []float32{1})

	tests := []struct {
		name    string
		config  SGDConfig
		wantErr bool
	}{
		{"default", DefaultSGDConfig(), false},
		{"negative lr", SGDConfig{LearningRate: -1}, true},
		{"momentum above one", SGDConfig{LearningRate: 0.1, Momentum: 1.5}, true},
		{"negative weight decay", SGDConfig{LearningRate: 0.1, WeightDecay: -0.1}, true},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.1, Nesterov: true}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewSGDOptimizer(test.config, []*tensor.Tensor{p})
			if (err != nil) != test.wantErr {
				t.Errorf("NewSGDOptimizer error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}

	if _, err := NewSGDOptimizer(DefaultSGDConfig(), nil); err == nil {
		t.Error("expected error for empty parameter list")
	}
}

func TestSGDStep(t *testing.T) {
	t.Run("vanilla", func(t *testing.T) {
		p := paramWithGrad(t, []float32{1, 2}, []float32{0.5, -1})
		opt, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1}, []*tensor.Tensor{p})

		if err := opt.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if !approx(p.Data[0], 0.95) || !approx(p.Data[1], 2.1) {
			t.Errorf("params after step = %v, expected [0.95 2.1]", p.Data)
		}
		if opt.GetStepCount() != 1 {
			t.Errorf("step count = %d, expected 1", opt.GetStepCount())
		}
	})

	t.Run("momentum accumulates", func(t *testing.T) {
		p := paramWithGrad(t, []float32{0}, []float32{1})
		opt, _ := NewSGDOptimizer(SGDConfig{LearningRate: 1, Momentum: 0.5}, []*tensor.Tensor{p})

		opt.Step() // v=1, p=-1
		opt.Step() // v=1.5, p=-2.5
		if !approx(p.Data[0], -2.5) {
			t.Errorf("param = %v, expected -2.5", p.Data[0])
		}
	})

	t.Run("weight decay", func(t *testing.T) {
		p := paramWithGrad(t, []float32{2}, []float32{0})
		opt, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.5, WeightDecay: 0.1}, []*tensor.Tensor{p})

		opt.Step()
		if !approx(p.Data[0], 1.9) {
			t.Errorf("param = %v, expected 1.9", p.Data[0])
		}
	})

	t.Run("skips parameters without gradient", func(t *testing.T) {
		p, _ := tensor.New([]int{1}, []float32{3})
		opt, _ := NewSGDOptimizer(SGDConfig{LearningRate: 1}, []*tensor.Tensor{p})
		opt.Step()
		if p.Data[0] != 3 {
			t.Errorf("param without gradient changed to %v", p.Data[0])
		}
	})
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := paramWithGrad(t, []float32{0, 0}, []float32{1, 2})
	opt, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []*tensor.Tensor{p})
	opt.Step()

	state, err := opt.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	q := paramWithGrad(t, []float32{0, 0}, []float32{1, 2})
	restored, _ := NewSGDOptimizer(SGDConfig{LearningRate: 0.5, Momentum: 0.9}, []*tensor.Tensor{q})
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if restored.GetLearningRate() != opt.GetLearningRate() {
		t.Errorf("learning rate = %v, expected %v", restored.GetLearningRate(), opt.GetLearningRate())
	}
	if restored.GetStepCount() != 1 {
		t.Errorf("step count = %d, expected 1", restored.GetStepCount())
	}
	if restored.MomentumBuffers[0][1] != opt.MomentumBuffers[0][1] {
		t.Errorf("momentum buffer = %v, expected %v", restored.MomentumBuffers[0], opt.MomentumBuffers[0])
	}

	state.Type = "Adam"
	if err := restored.LoadState(state); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"momentum_0", 0},
		{"m_12", 12},
		{"squared_grad_avg_3", 3},
		{"nounderscore", -1},
		{"bad_x", -1},
	}
	for _, test := range tests {
		if got := extractBufferIndex(test.name); got != test.expected {
			t.Errorf("extractBufferIndex(%q) = %d, expected %d", test.name, got, test.expected)
		}
	}
}
