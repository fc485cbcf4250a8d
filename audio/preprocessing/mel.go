package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MelConfig controls STFT framing and the mel filterbank
type MelConfig struct {
	SampleRate int     `yaml:"sample_rate" json:"sample_rate"`
	NFFT       int     `yaml:"n_fft" json:"n_fft"`
	HopLength  int     `yaml:"hop_length" json:"hop_length"`
	NMels      int     `yaml:"n_mels" json:"n_mels"`
	FMin       float64 `yaml:"f_min" json:"f_min"`
	FMax       float64 `yaml:"f_max" json:"f_max"` // 0 = SampleRate/2
}

// DefaultMelConfig returns a 25 ms / 10 ms, 80-band configuration at 16 kHz
func DefaultMelConfig() MelConfig {
	return MelConfig{SampleRate: 16000, NFFT: 400, HopLength: 160, NMels: 80}
}

func (c MelConfig) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	case c.NFFT < 2:
		return fmt.Errorf("n_fft must be at least 2, got %d", c.NFFT)
	case c.HopLength <= 0:
		return fmt.Errorf("hop length must be positive, got %d", c.HopLength)
	case c.NMels <= 0:
		return fmt.Errorf("n_mels must be positive, got %d", c.NMels)
	case c.fMax() <= c.FMin:
		return fmt.Errorf("f_max (%v) must exceed f_min (%v)", c.fMax(), c.FMin)
	}
	return nil
}

func (c MelConfig) fMax() float64 {
	if c.FMax > 0 {
		return c.FMax
	}
	return float64(c.SampleRate) / 2
}

// melFrontEnd computes power mel spectrograms. It is immutable after
// construction and safe for concurrent use; each call allocates its own FFT
// work buffers.
type melFrontEnd struct {
	cfg    MelConfig
	window []float64
	bank   [][]float64 // [NMels][NFFT/2+1]
}

func newMelFrontEnd(cfg MelConfig) (*melFrontEnd, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &melFrontEnd{
		cfg:    cfg,
		window: hannWindow(cfg.NFFT),
		bank:   melFilterBank(cfg.NMels, cfg.NFFT, cfg.SampleRate, cfg.FMin, cfg.fMax()),
	}, nil
}

// power returns the mel-weighted power spectrum of wave
func (m *melFrontEnd) power(wave []float32) (*Spectrogram, error) {
	if len(wave) == 0 {
		return nil, fmt.Errorf("empty waveform")
	}
	nfft, hop := m.cfg.NFFT, m.cfg.HopLength
	padded := centerPad(wave, nfft/2)
	frames := 1 + (len(padded)-nfft)/hop

	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeff := make([]complex128, nfft/2+1)
	power := make([]float64, nfft/2+1)
	out := NewSpectrogram(m.cfg.NMels, frames)

	for t := 0; t < frames; t++ {
		start := t * hop
		for i := 0; i < nfft; i++ {
			frame[i] = padded[start+i] * m.window[i]
		}
		coeff = fft.Coefficients(coeff, frame)
		for k, c := range coeff {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}
		for b, filter := range m.bank {
			sum := 0.0
			for k, w := range filter {
				if w != 0 {
					sum += w * power[k]
				}
			}
			out.Set(b, t, float32(sum))
		}
	}
	return out, nil
}

// centerPad reflect-pads wave by pad samples on each side. Signals too short
// to reflect are zero-padded instead.
func centerPad(wave []float32, pad int) []float64 {
	n := len(wave)
	out := make([]float64, n+2*pad)
	for i, v := range wave {
		out[pad+i] = float64(v)
	}
	if n <= pad {
		return out
	}
	for i := 1; i <= pad; i++ {
		out[pad-i] = float64(wave[i])
		out[pad+n-1+i] = float64(wave[n-1-i])
	}
	return out
}

// hannWindow generates a periodic Hann window of the given length
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank creates triangular filters over the linear FFT bin
// frequencies. Returns [numMels][fftSize/2+1].
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	nFreqs := fftSize/2 + 1
	allFreqs := make([]float64, nFreqs)
	for k := range allFreqs {
		allFreqs[k] = float64(k) * float64(sampleRate) / 2 / float64(nFreqs-1)
	}

	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)
	fPts := make([]float64, numMels+2)
	for i := range fPts {
		fPts[i] = melToHz(lowMel + float64(i)*(highMel-lowMel)/float64(numMels+1))
	}

	bank := make([][]float64, numMels)
	for m := range bank {
		left, center, right := fPts[m], fPts[m+1], fPts[m+2]
		filter := make([]float64, nFreqs)
		for k, f := range allFreqs {
			down := (f - left) / (center - left)
			up := (right - f) / (right - center)
			if w := math.Min(down, up); w > 0 {
				filter[k] = w
			}
		}
		bank[m] = filter
	}
	return bank
}

// powerToDB converts power values to decibels with a 1e-10 floor. A positive
// topDB clamps everything below max-topDB.
func powerToDB(s *Spectrogram, topDB float64) {
	maxDB := math.Inf(-1)
	for i, v := range s.Data {
		db := 10 * math.Log10(math.Max(float64(v), 1e-10))
		s.Data[i] = float32(db)
		maxDB = math.Max(maxDB, db)
	}
	if topDB <= 0 {
		return
	}
	floor := float32(maxDB - topDB)
	for i, v := range s.Data {
		if v < floor {
			s.Data[i] = floor
		}
	}
}
