package preprocessing

import "math/rand"

// Transform mutates a spectrogram in place using rng for every random draw
type Transform interface {
	Apply(s *Spectrogram, rng *rand.Rand)
}

// TimeMask zeroes a random run of up to MaxWidth consecutive frames
type TimeMask struct {
	MaxWidth int
	P        float64
}

func (m TimeMask) Apply(s *Spectrogram, rng *rand.Rand) {
	if rng.Float64() >= m.P {
		return
	}
	start, width := maskSpan(s.Frames, m.MaxWidth, rng)
	for b := 0; b < s.Bins; b++ {
		row := s.Row(b)
		for t := start; t < start+width; t++ {
			row[t] = 0
		}
	}
}

// FreqMask zeroes a random band of up to MaxWidth consecutive bins
type FreqMask struct {
	MaxWidth int
	P        float64
}

func (m FreqMask) Apply(s *Spectrogram, rng *rand.Rand) {
	if rng.Float64() >= m.P {
		return
	}
	start, width := maskSpan(s.Bins, m.MaxWidth, rng)
	for b := start; b < start+width; b++ {
		row := s.Row(b)
		for t := range row {
			row[t] = 0
		}
	}
}

// maskSpan draws a width in [0, maxWidth) and a start that keeps the span
// inside [0, size).
func maskSpan(size, maxWidth int, rng *rand.Rand) (int, int) {
	width := int(rng.Float64() * float64(maxWidth))
	if width > size {
		width = size
	}
	start := int(rng.Float64() * float64(size-width))
	return start, width
}

// AddNoise adds zero-mean Gaussian noise with standard deviation Std
type AddNoise struct {
	Std float64
	P   float64
}

func (n AddNoise) Apply(s *Spectrogram, rng *rand.Rand) {
	if rng.Float64() >= n.P {
		return
	}
	for i := range s.Data {
		s.Data[i] += float32(rng.NormFloat64() * n.Std)
	}
}

// Compose applies its transforms in order
type Compose []Transform

func (c Compose) Apply(s *Spectrogram, rng *rand.Rand) {
	for _, t := range c {
		t.Apply(s, rng)
	}
}

// AugmentConfig enables the spectrogram augmentations used during training
type AugmentConfig struct {
	TimeMask      bool    `yaml:"time_mask" json:"time_mask"`
	TimeMaskParam int     `yaml:"time_mask_param" json:"time_mask_param"`
	TimeMaskP     float64 `yaml:"time_mask_p" json:"time_mask_p"`
	FreqMask      bool    `yaml:"freq_mask" json:"freq_mask"`
	FreqMaskParam int     `yaml:"freq_mask_param" json:"freq_mask_param"`
	FreqMaskP     float64 `yaml:"freq_mask_p" json:"freq_mask_p"`
	Noise         bool    `yaml:"noise" json:"noise"`
	NoiseStd      float64 `yaml:"noise_std" json:"noise_std"`
	NoiseP        float64 `yaml:"noise_p" json:"noise_p"`
}

// DefaultAugmentConfig enables time and frequency masking
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		TimeMask:      true,
		TimeMaskParam: 10,
		TimeMaskP:     0.5,
		FreqMask:      true,
		FreqMaskParam: 8,
		FreqMaskP:     0.5,
		NoiseStd:      0.01,
		NoiseP:        0.3,
	}
}

// BuildTransforms returns the enabled transforms in the order time mask,
// frequency mask, noise. An empty Compose is a no-op.
func BuildTransforms(cfg AugmentConfig) Compose {
	var c Compose
	if cfg.TimeMask && cfg.TimeMaskParam > 0 {
		c = append(c, TimeMask{MaxWidth: cfg.TimeMaskParam, P: cfg.TimeMaskP})
	}
	if cfg.FreqMask && cfg.FreqMaskParam > 0 {
		c = append(c, FreqMask{MaxWidth: cfg.FreqMaskParam, P: cfg.FreqMaskP})
	}
	if cfg.Noise && cfg.NoiseStd > 0 {
		c = append(c, AddNoise{Std: cfg.NoiseStd, P: cfg.NoiseP})
	}
	return c
}
