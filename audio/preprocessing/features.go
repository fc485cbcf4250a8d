package preprocessing

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Feature types accepted by NewExtractor
const (
	FeatureMFCC     = "mfcc"
	FeatureLogMel   = "mel"
	FeatureCombined = "combined"
)

// topDB is the dynamic range kept by the MFCC log-mel stage
const topDB = 80.0

// Extractor converts a mono waveform into a feature spectrogram
type Extractor interface {
	Extract(wave []float32) (*Spectrogram, error)
	// Bins is the number of feature rows every Extract call produces
	Bins() int
}

// FeatureConfig selects and parameterises the feature extractor
type FeatureConfig struct {
	Type string `yaml:"type" json:"type"`
	MelConfig `yaml:",inline"`
	NMFCC     int `yaml:"n_mfcc" json:"n_mfcc"`
	// For the combined type
	UseMFCC bool `yaml:"use_mfcc" json:"use_mfcc"`
	UseMel  bool `yaml:"use_mel" json:"use_mel"`
}

// DefaultFeatureConfig returns 40 MFCCs over an 80-band mel front end
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		Type:      FeatureMFCC,
		MelConfig: DefaultMelConfig(),
		NMFCC:     40,
		UseMFCC:   true,
	}
}

// NewExtractor builds the extractor named by cfg.Type
func NewExtractor(cfg FeatureConfig) (Extractor, error) {
	switch strings.ToLower(cfg.Type) {
	case FeatureMFCC, "":
		return NewMFCC(cfg.MelConfig, cfg.NMFCC)
	case FeatureLogMel, "log_mel", "logmel":
		return NewLogMel(cfg.MelConfig)
	case FeatureCombined:
		return NewCombined(cfg)
	default:
		return nil, fmt.Errorf("unknown feature type %q", cfg.Type)
	}
}

// LogMel produces a power mel spectrogram in decibels
type LogMel struct {
	front *melFrontEnd
}

// NewLogMel validates cfg and precomputes the window and filterbank
func NewLogMel(cfg MelConfig) (*LogMel, error) {
	front, err := newMelFrontEnd(cfg)
	if err != nil {
		return nil, err
	}
	return &LogMel{front: front}, nil
}

func (l *LogMel) Bins() int { return l.front.cfg.NMels }

func (l *LogMel) Extract(wave []float32) (*Spectrogram, error) {
	s, err := l.front.power(wave)
	if err != nil {
		return nil, err
	}
	powerToDB(s, 0)
	return s, nil
}

// MFCC applies an orthonormal DCT-II to the log-mel spectrogram
type MFCC struct {
	front *melFrontEnd
	dct   *mat.Dense // [nMFCC x nMels]
}

func NewMFCC(cfg MelConfig, nMFCC int) (*MFCC, error) {
	front, err := newMelFrontEnd(cfg)
	if err != nil {
		return nil, err
	}
	if nMFCC <= 0 || nMFCC > cfg.NMels {
		return nil, fmt.Errorf("n_mfcc must be in [1, %d], got %d", cfg.NMels, nMFCC)
	}
	return &MFCC{front: front, dct: dctMatrix(nMFCC, cfg.NMels)}, nil
}

func (m *MFCC) Bins() int {
	r, _ := m.dct.Dims()
	return r
}

func (m *MFCC) Extract(wave []float32) (*Spectrogram, error) {
	s, err := m.front.power(wave)
	if err != nil {
		return nil, err
	}
	powerToDB(s, topDB)

	logMel := mat.NewDense(s.Bins, s.Frames, nil)
	for b := 0; b < s.Bins; b++ {
		for t := 0; t < s.Frames; t++ {
			logMel.Set(b, t, float64(s.At(b, t)))
		}
	}
	var coeffs mat.Dense
	coeffs.Mul(m.dct, logMel)

	out := NewSpectrogram(m.Bins(), s.Frames)
	for k := 0; k < out.Bins; k++ {
		for t := 0; t < out.Frames; t++ {
			out.Set(k, t, float32(coeffs.At(k, t)))
		}
	}
	return out, nil
}

// dctMatrix returns the orthonormal DCT-II basis with nOut rows over nIn inputs
func dctMatrix(nOut, nIn int) *mat.Dense {
	d := mat.NewDense(nOut, nIn, nil)
	scale := math.Sqrt(2 / float64(nIn))
	for k := 0; k < nOut; k++ {
		s := scale
		if k == 0 {
			s = scale / math.Sqrt2
		}
		for n := 0; n < nIn; n++ {
			d.Set(k, n, s*math.Cos(math.Pi/float64(nIn)*(float64(n)+0.5)*float64(k)))
		}
	}
	return d
}

// Combined stacks the enabled extractors along the bin axis, MFCC first
type Combined struct {
	parts []Extractor
	bins  int
}

func NewCombined(cfg FeatureConfig) (*Combined, error) {
	c := &Combined{}
	if cfg.UseMFCC {
		m, err := NewMFCC(cfg.MelConfig, cfg.NMFCC)
		if err != nil {
			return nil, err
		}
		c.parts = append(c.parts, m)
	}
	if cfg.UseMel {
		l, err := NewLogMel(cfg.MelConfig)
		if err != nil {
			return nil, err
		}
		c.parts = append(c.parts, l)
	}
	if len(c.parts) == 0 {
		return nil, fmt.Errorf("combined features need use_mfcc or use_mel")
	}
	for _, p := range c.parts {
		c.bins += p.Bins()
	}
	return c, nil
}

func (c *Combined) Bins() int { return c.bins }

func (c *Combined) Extract(wave []float32) (*Spectrogram, error) {
	specs := make([]*Spectrogram, 0, len(c.parts))
	for _, p := range c.parts {
		s, err := p.Extract(wave)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return Stack(specs...)
}
