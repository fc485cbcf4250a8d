package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/audio/preprocessing"
	"github.com/tsawler/go-supcon/tensor"
)

// Pad strategies for training views
const (
	PadRandom = "random"
	PadLeft   = "left"
	PadRight  = "right"
)

// Mode selects training behaviour (augmentation, pad strategy) or
// deterministic evaluation behaviour
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	if m == Eval {
		return "eval"
	}
	return "train"
}

// Config controls waveform shaping
type Config struct {
	MaxLength   int    // samples at the loader rate; 0 = 1.2 x longest recording
	PadStrategy string // random, left or right
	NAugment    int    // copies of every recording per epoch
	WaveAugment bool   // random gain and noise on training views
	Seed        int64
}

// PhonemeDataset serves each recording NAugment times. Index i maps to
// recording i % n, so copies of one recording share a group.
type PhonemeDataset struct {
	manifest   *Manifest
	loader     *Loader
	extractor  preprocessing.Extractor
	transforms preprocessing.Compose
	cfg        Config
	mode       Mode
}

// New validates cfg against the manifest and returns a training-mode dataset
func New(m *Manifest, loader *Loader, extractor preprocessing.Extractor, transforms preprocessing.Compose, cfg Config) (*PhonemeDataset, error) {
	if m == nil || m.Len() == 0 {
		return nil, errors.New("manifest has no recordings")
	}
	switch cfg.PadStrategy {
	case "":
		cfg.PadStrategy = PadRandom
	case PadRandom, PadLeft, PadRight:
	default:
		return nil, errors.Errorf("invalid pad strategy %q", cfg.PadStrategy)
	}
	if cfg.NAugment <= 0 {
		cfg.NAugment = 1
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = int(float64(m.MaxLength(loader.SampleRate())) * 1.2)
	}
	if cfg.MaxLength <= 0 {
		return nil, errors.New("recordings are empty")
	}
	return &PhonemeDataset{
		manifest:   m,
		loader:     loader,
		extractor:  extractor,
		transforms: transforms,
		cfg:        cfg,
	}, nil
}

// WithMode returns a view of the same data in another mode
func (d *PhonemeDataset) WithMode(mode Mode) *PhonemeDataset {
	c := *d
	c.mode = mode
	return &c
}

func (d *PhonemeDataset) Mode() Mode { return d.mode }

// MaxLength is the fixed waveform length, in samples
func (d *PhonemeDataset) MaxLength() int { return d.cfg.MaxLength }

func (d *PhonemeDataset) Manifest() *Manifest { return d.manifest }

func (d *PhonemeDataset) Len() int { return d.manifest.Len() * d.cfg.NAugment }

func (d *PhonemeDataset) Label(idx int) int { return d.manifest.Labels[idx%d.manifest.Len()] }

// Path returns the recording behind sample idx
func (d *PhonemeDataset) Path(idx int) string { return d.manifest.Paths[idx%d.manifest.Len()] }

// Groups maps every sample to its recording, for leakage-free splits
func (d *PhonemeDataset) Groups() []int {
	groups := make([]int, d.Len())
	for i := range groups {
		groups[i] = i % d.manifest.Len()
	}
	return groups
}

// InputSize is the flattened feature length of every sample
func (d *PhonemeDataset) InputSize() (int, error) {
	s, err := d.extractor.Extract(make([]float32, d.cfg.MaxLength))
	if err != nil {
		return 0, err
	}
	return len(s.Data), nil
}

// Get renders view `view` of sample idx as a flattened [bins*frames]
// tensor. Identical (idx, view) pairs render identically.
func (d *PhonemeDataset) Get(idx, view int) (*tensor.Tensor, error) {
	if idx < 0 || idx >= d.Len() {
		return nil, errors.Errorf("index %d out of range [0, %d)", idx, d.Len())
	}
	wave, err := d.loader.Load(d.Path(idx))
	if err != nil {
		return nil, err
	}

	waveRng := rand.New(rand.NewSource(d.cfg.Seed + int64(idx)*1000 + int64(view)))
	wave = d.pad(wave, waveRng)
	if d.mode == Train && d.cfg.WaveAugment {
		augmentWaveform(wave, waveRng)
	}

	spec, err := d.extractor.Extract(wave)
	if err != nil {
		return nil, errors.WithMessagef(err, "extract features for %s", d.Path(idx))
	}
	if d.mode == Train && len(d.transforms) > 0 {
		d.transforms.Apply(spec, rand.New(rand.NewSource(d.cfg.Seed+int64(idx)*2000+int64(view))))
	}
	return tensor.New([]int{len(spec.Data)}, spec.Data)
}

// pad fits wave to MaxLength. Long recordings keep their prefix. Evaluation
// always centres; training follows the configured strategy.
func (d *PhonemeDataset) pad(wave []float32, rng *rand.Rand) []float32 {
	n := d.cfg.MaxLength
	if len(wave) >= n {
		return wave[:n]
	}
	total := n - len(wave)
	var left int
	switch {
	case d.mode == Eval:
		left = total / 2
	case d.cfg.PadStrategy == PadLeft:
		left = 0
	case d.cfg.PadStrategy == PadRight:
		left = total
	default:
		left = rng.Intn(total + 1)
	}
	out := make([]float32, n)
	copy(out[left:], wave)
	return out
}

// augmentWaveform applies background noise (p=0.3) and random gain (p=0.5)
// in place
func augmentWaveform(wave []float32, rng *rand.Rand) {
	if rng.Float64() < 0.3 {
		std := 0.001 + rng.Float64()*0.004
		for i := range wave {
			wave[i] += float32(rng.NormFloat64() * std)
		}
	}
	if rng.Float64() < 0.5 {
		gain := float32(0.8 + rng.Float64()*0.4)
		for i := range wave {
			wave[i] *= gain
		}
	}
}
