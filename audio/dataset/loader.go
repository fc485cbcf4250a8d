package dataset

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Loader reads recordings as mono waveforms at a fixed sample rate,
// consulting an optional cache first.
type Loader struct {
	fs     afero.Fs
	rate   int
	cache  WaveCache
	logger *zap.Logger
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(fs afero.Fs, targetRate int, cache WaveCache, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fs, rate: targetRate, cache: cache, logger: logger}
}

// SampleRate is the rate of every waveform Load returns
func (l *Loader) SampleRate() int { return l.rate }

// Load returns a fresh copy of the waveform at path. Cache failures are
// logged and otherwise ignored.
func (l *Loader) Load(path string) ([]float32, error) {
	if l.cache != nil {
		samples, ok, err := l.cache.Get(path, l.rate)
		if err != nil {
			l.logger.Warn("wave cache read failed", zap.String("path", path), zap.Error(err))
		} else if ok {
			return append([]float32(nil), samples...), nil
		}
	}

	clip, err := LoadWAV(l.fs, path)
	if err != nil {
		return nil, err
	}
	samples, err := Resample(clip.Samples, clip.SampleRate, l.rate)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Put(path, l.rate, samples); err != nil {
			l.logger.Warn("wave cache write failed", zap.String("path", path), zap.Error(err))
		}
	}
	return samples, nil
}
