package preprocessing

import (
	"math"
	"testing"
)

func sine(freq float64, sr, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr)))
	}
	return w
}

func TestExtractorShapes(t *testing.T) {
	cfg := DefaultFeatureConfig()
	wave := sine(440, 16000, 16000)

	tests := []struct {
		name     string
		typ      string
		useMel   bool
		wantBins int
	}{
		{"mfcc", FeatureMFCC, false, 40},
		{"mel", FeatureLogMel, false, 80},
		{"combined mfcc only", FeatureCombined, false, 40},
		{"combined both", FeatureCombined, true, 120},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := cfg
			c.Type = test.typ
			c.UseMel = test.useMel
			ext, err := NewExtractor(c)
			if err != nil {
				t.Fatalf("NewExtractor failed: %v", err)
			}
			if ext.Bins() != test.wantBins {
				t.Errorf("Bins() = %d, expected %d", ext.Bins(), test.wantBins)
			}
			s, err := ext.Extract(wave)
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if s.Bins != test.wantBins || s.Frames != 101 {
				t.Errorf("shape = %v, expected [%d 101]", s.Shape(), test.wantBins)
			}
			for i, v := range s.Data {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("non-finite feature at %d: %v", i, v)
				}
			}
		})
	}
}

func TestLogMelPeaksAtToneBand(t *testing.T) {
	cfg := DefaultMelConfig()
	ext, err := NewLogMel(cfg)
	if err != nil {
		t.Fatalf("NewLogMel failed: %v", err)
	}
	s, err := ext.Extract(sine(1000, cfg.SampleRate, 8000))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	frame := s.Frames / 2
	best := 0
	for b := 1; b < s.Bins; b++ {
		if s.At(b, frame) > s.At(best, frame) {
			best = b
		}
	}
	bank := melFilterBank(cfg.NMels, cfg.NFFT, cfg.SampleRate, 0, cfg.fMax())
	bin1k := int(math.Round(1000 / (float64(cfg.SampleRate) / float64(cfg.NFFT))))
	if bank[best][bin1k] == 0 {
		t.Errorf("loudest band %d does not cover 1 kHz", best)
	}
}

func TestShortAndEmptyWaveforms(t *testing.T) {
	ext, err := NewMFCC(DefaultMelConfig(), 13)
	if err != nil {
		t.Fatalf("NewMFCC failed: %v", err)
	}
	s, err := ext.Extract(sine(300, 16000, 100))
	if err != nil {
		t.Fatalf("Extract on a short waveform failed: %v", err)
	}
	if s.Frames != 1 || s.Bins != 13 {
		t.Errorf("shape = %v, expected [13 1]", s.Shape())
	}

	if _, err := ext.Extract(nil); err == nil {
		t.Error("expected an error for an empty waveform")
	}
}

func TestDCTIsOrthonormal(t *testing.T) {
	const n = 16
	d := dctMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dot := 0.0
			for k := 0; k < n; k++ {
				dot += d.At(i, k) * d.At(j, k)
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > 1e-9 {
				t.Fatalf("row %d . row %d = %v, expected %v", i, j, dot, want)
			}
		}
	}
}

func TestMelFilterBankWeights(t *testing.T) {
	bank := melFilterBank(40, 512, 16000, 20, 8000)
	if len(bank) != 40 || len(bank[0]) != 257 {
		t.Fatalf("bank shape = [%d %d], expected [40 257]", len(bank), len(bank[0]))
	}
	for m, filter := range bank {
		peak := 0.0
		for _, w := range filter {
			if w < 0 || w > 1 {
				t.Fatalf("filter %d has weight %v outside [0, 1]", m, w)
			}
			peak = math.Max(peak, w)
		}
		if peak == 0 {
			t.Errorf("filter %d is empty", m)
		}
	}
	if got := melToHz(hzToMel(1234)); math.Abs(got-1234) > 1e-6 {
		t.Errorf("mel round trip = %v", got)
	}
}

func TestConfigErrors(t *testing.T) {
	bad := []FeatureConfig{
		{Type: "wavelet", MelConfig: DefaultMelConfig(), NMFCC: 40},
		{Type: FeatureMFCC, MelConfig: DefaultMelConfig(), NMFCC: 100},
		{Type: FeatureMFCC, MelConfig: MelConfig{SampleRate: 16000, NFFT: 400, NMels: 80}, NMFCC: 40},
		{Type: FeatureLogMel, MelConfig: MelConfig{SampleRate: 16000, NFFT: 400, HopLength: 160, NMels: 80, FMin: 9000}},
		{Type: FeatureCombined, MelConfig: DefaultMelConfig(), NMFCC: 40},
	}
	for i, cfg := range bad {
		if _, err := NewExtractor(cfg); err == nil {
			t.Errorf("config %d: expected an error", i)
		}
	}
}

func TestStack(t *testing.T) {
	a := NewSpectrogram(2, 3)
	b := NewSpectrogram(1, 3)
	b.Set(0, 2, 7)
	s, err := Stack(a, b)
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	if s.Bins != 3 || s.At(2, 2) != 7 {
		t.Errorf("stacked = %+v", s)
	}
	if _, err := Stack(a, NewSpectrogram(1, 4)); err == nil {
		t.Error("expected a frame mismatch error")
	}
}
