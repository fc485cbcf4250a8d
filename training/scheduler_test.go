package training

import (
	"math"
	"testing"
)

func TestStepLRScheduler(t *testing.T) {
	scheduler := NewStepLRScheduler(2, 0.1)
	baseLR := 0.1
	
	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},      // Initial
		{1, 0.1},      // No change yet
		{2, 0.01},     // First reduction
		{3, 0.01},     // Same
		{4, 0.001},    // Second reduction
		{5, 0.001},    // Same
		{6, 0.0001},   // Third reduction
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestExponentialLRScheduler(t *testing.T) {
	scheduler := NewExponentialLRScheduler(0.9)
	baseLR := 0.1
	
	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},        // Initial
		{1, 0.09},       // 0.1 * 0.9
		{2, 0.081},      // 0.1 * 0.9^2
		{3, 0.0729},     // 0.1 * 0.9^3
		{4, 0.06561},    // 0.1 * 0.9^4
		{5, 0.059049},   // 0.1 * 0.9^5
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestCosineAnnealingLRScheduler(t *testing.T) {
	scheduler := NewCosineAnnealingLRScheduler(5, 0.0001)
	baseLR := 0.01
	
	// Test specific points in the cosine curve
	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},      // Initial (max)
		{5, 0.0001, 1e-6},    // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}
	
	for _, tt := range tests {
		lr := scheduler.GetLR(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
	
	// Test beyond TMax
	lr := scheduler.GetLR(10, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestReduceLROnPlateauScheduler(t *testing.T) {
	scheduler := NewReduceLROnPlateauScheduler(0.5, 2, 0.01)
	baseLR := 0.1

	steps := []struct {
		accuracy   float64
		expectedLR float64
	}{
		{0.50, 0.1},   // First observation
		{0.60, 0.1},   // Improvement
		{0.605, 0.1},  // Below threshold, first bad evaluation
		{0.59, 0.05},  // Second bad evaluation, reduce
		{0.58, 0.05},  // Counter was reset
		{0.70, 0.05},  // Improvement keeps the reduced rate
	}

	for i, step := range steps {
		scheduler.Observe(step.accuracy)
		if lr := scheduler.GetLR(i, baseLR); math.Abs(lr-step.expectedLR) > 1e-12 {
			t.Errorf("Step %d: expected LR %f, got %f", i, step.expectedLR, lr)
		}
	}
}

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		wantErr  bool
	}{
		{"", "ConstantLR", false},
		{"step", "StepLR", false},
		{"exponential", "ExponentialLR", false},
		{"cosine", "CosineAnnealingLR", false},
		{"plateau", "ReduceLROnPlateau", false},
		{"warmup", "", true},
	}

	for _, tt := range tests {
		s, err := NewScheduler(SchedulerConfig{Name: tt.name}, 10)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewScheduler(%q) error = %v", tt.name, err)
			continue
		}
		if tt.wantErr {
			if !isErr(err, ErrConfiguration) {
				t.Errorf("NewScheduler(%q): expected configuration error, got %v", tt.name, err)
			}
			continue
		}
		if s.GetName() != tt.expected {
			t.Errorf("NewScheduler(%q) = %s, expected %s", tt.name, s.GetName(), tt.expected)
		}
	}

	s, _ := NewScheduler(SchedulerConfig{Name: "plateau"}, 10)
	if _, ok := s.(MetricScheduler); !ok {
		t.Error("plateau scheduler should observe the diagnostic metric")
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLRScheduler(10, 0.1), "StepLR"},
		{NewExponentialLRScheduler(0.95), "ExponentialLR"},
		{NewCosineAnnealingLRScheduler(100, 0.0), "CosineAnnealingLR"},
		{NewReduceLROnPlateauScheduler(0.1, 10, 0.001), "ReduceLROnPlateau"},
		{&NoOpScheduler{}, "ConstantLR"},
	}
	
	for _, tt := range tests {
		name := tt.scheduler.GetName()
		if name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}