package dataset

import (
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-supcon/audio/preprocessing"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeWAV(t *testing.T, fs afero.Fs, path string, rate, channels int, data []int) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func tone(n int, amp int) []int {
	data := make([]int, n)
	for i := range data {
		if (i/8)%2 == 0 {
			data[i] = amp
		} else {
			data[i] = -amp
		}
	}
	return data
}

func TestExtractLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
		err  bool
	}{
		{"data/ada01.wav", "ada", false},
		{"Bi (2).WAV", "bi", false},
		{"pa_3.wav", "pa", false},
		{"ubuku12.wav", "ubuk", false},
		{"x/Ege.wav", "ege", false},
		{"12ab.wav", "", true},
		{"_pa.wav", "", true},
	}
	for _, test := range tests {
		got, err := ExtractLabel(test.path)
		if test.err {
			assert.Error(t, err, test.path)
			continue
		}
		require.NoError(t, err, test.path)
		assert.Equal(t, test.want, got, test.path)
	}
}

func TestParseDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "data/a/pa1.wav", 8000, 1, tone(800, 1000))
	writeWAV(t, fs, "data/b/bi1.wav", 8000, 1, tone(1600, 1000))
	writeWAV(t, fs, "data/pa2.wav", 16000, 1, tone(400, 1000))
	writeWAV(t, fs, "data/123.wav", 8000, 1, tone(100, 1000))
	require.NoError(t, afero.WriteFile(fs, "data/broken.wav", []byte("not riff"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "data/notes.txt", []byte("x"), 0o644))

	core, logs := observer.New(zapcore.InfoLevel)
	m, err := ParseDirectory(fs, "data", zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, []string{"bi", "pa"}, m.Classes)
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, map[string]int{"bi": 0, "pa": 1}, m.LabelMap())
	for i, p := range m.Paths {
		label, _ := ExtractLabel(p)
		assert.Equal(t, m.LabelMap()[label], m.Labels[i], p)
	}
	assert.Equal(t, 2, logs.FilterMessage("skipping file").Len())

	// 1600 samples at 8 kHz is the longest at 16 kHz.
	assert.Equal(t, 3200, m.MaxLength(16000))

	_, err = ParseDirectory(fs, "missing", nil)
	assert.Error(t, err)
}

func TestDecodeWAVDownmixesStereo(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := make([]int, 0, 200)
	for i := 0; i < 100; i++ {
		data = append(data, 16384, 0)
	}
	writeWAV(t, fs, "st.wav", 22050, 2, data)

	clip, err := LoadWAV(fs, "st.wav")
	require.NoError(t, err)
	assert.Equal(t, 22050, clip.SampleRate)
	require.Len(t, clip.Samples, 100)
	assert.InDelta(t, 0.25, clip.Samples[0], 1e-6)
}

func TestResample(t *testing.T) {
	in := make([]float32, 8000)
	for i := range in {
		in[i] = float32(i%16) / 16
	}

	out, err := Resample(in, 8000, 16000)
	require.NoError(t, err)
	assert.Len(t, out, 16000)

	down, err := Resample(in, 8000, 4000)
	require.NoError(t, err)
	assert.Len(t, down, 4000)

	same, err := Resample(in, 8000, 8000)
	require.NoError(t, err)
	assert.Equal(t, in, same)
	same[0] = 9
	assert.NotEqual(t, in[0], same[0], "same-rate resample must copy")

	_, err = Resample(in, 0, 8000)
	assert.Error(t, err)
}

func TestBadgerCacheAndLoader(t *testing.T) {
	cache, err := OpenBadgerCache(BadgerCacheOptions{InMemory: true})
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get("x.wav", 16000)
	require.NoError(t, err)
	assert.False(t, ok)

	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "pa.wav", 8000, 1, tone(800, 2000))
	loader := NewLoader(fs, 16000, cache, nil)

	first, err := loader.Load("pa.wav")
	require.NoError(t, err)
	assert.Len(t, first, 1600)

	cached, ok, err := cache.Get("pa.wav", 16000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	_, ok, _ = cache.Get("pa.wav", 8000)
	assert.False(t, ok, "entries are keyed by target rate")

	// Served from the cache once the file is gone.
	require.NoError(t, fs.Remove("pa.wav"))
	second, err := loader.Load("pa.wav")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = NewLoader(fs, 16000, nil, nil).Load("pa.wav")
	assert.Error(t, err)
}

func testDataset(t *testing.T, cfg Config) *PhonemeDataset {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "d/pa1.wav", 8000, 1, tone(600, 3000))
	writeWAV(t, fs, "d/pa2.wav", 8000, 1, tone(500, 2000))
	writeWAV(t, fs, "d/bi1.wav", 8000, 1, tone(700, 4000))

	m, err := ParseDirectory(fs, "d", nil)
	require.NoError(t, err)

	ext, err := preprocessing.NewMFCC(preprocessing.MelConfig{SampleRate: 8000, NFFT: 64, HopLength: 32, NMels: 16}, 8)
	require.NoError(t, err)
	aug := preprocessing.BuildTransforms(preprocessing.AugmentConfig{
		TimeMask: true, TimeMaskParam: 4, TimeMaskP: 1,
		Noise: true, NoiseStd: 0.5, NoiseP: 1,
	})

	ds, err := New(m, NewLoader(fs, 8000, nil, nil), ext, aug, cfg)
	require.NoError(t, err)
	return ds
}

func TestPhonemeDataset(t *testing.T) {
	ds := testDataset(t, Config{NAugment: 3, WaveAugment: true, Seed: 1})

	assert.Equal(t, 9, ds.Len())
	longest := 700
	assert.Equal(t, int(float64(longest)*1.2), ds.MaxLength(), "1.2 x the longest recording")
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, ds.Groups())
	for i := 0; i < ds.Len(); i++ {
		assert.Equal(t, ds.Label(i%3), ds.Label(i))
		assert.Equal(t, ds.Path(i%3), ds.Path(i))
	}

	size, err := ds.InputSize()
	require.NoError(t, err)
	assert.Equal(t, 8*(ds.MaxLength()/32+1), size)

	a, err := ds.Get(4, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{size}, a.Shape)

	again, err := ds.Get(4, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Data, again.Data, "views are deterministic")

	other, err := ds.Get(4, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, other.Data, "views differ in train mode")

	eval := ds.WithMode(Eval)
	assert.Equal(t, Train, ds.Mode())
	e0, err := eval.Get(4, 0)
	require.NoError(t, err)
	e1, err := eval.Get(4, 1)
	require.NoError(t, err)
	assert.Equal(t, e0.Data, e1.Data, "eval views are identical")

	_, err = ds.Get(9, 0)
	assert.Error(t, err)
}

func TestPadStrategies(t *testing.T) {
	wave := []float32{1, 2}
	tests := []struct {
		strategy string
		mode     Mode
		want     []float32
	}{
		{PadLeft, Train, []float32{1, 2, 0, 0, 0}},
		{PadRight, Train, []float32{0, 0, 0, 1, 2}},
		{PadRight, Eval, []float32{0, 1, 2, 0, 0}},
	}
	for _, test := range tests {
		ds := &PhonemeDataset{cfg: Config{MaxLength: 5, PadStrategy: test.strategy}, mode: test.mode}
		got := ds.pad(append([]float32(nil), wave...), nil)
		assert.Equal(t, test.want, got, "%s/%s", test.strategy, test.mode)
	}

	ds := &PhonemeDataset{cfg: Config{MaxLength: 5, PadStrategy: PadRandom}}
	got := ds.pad([]float32{1, 2}, newRand(3))
	assert.Len(t, got, 5)
	assert.Equal(t, []float32{1, 2}, trimZeros(got))

	long := ds.pad([]float32{1, 2, 3, 4, 5, 6, 7}, newRand(3))
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, long)
}

func TestNewRejectsBadConfig(t *testing.T) {
	ds := testDataset(t, Config{})
	_, err := New(ds.manifest, ds.loader, ds.extractor, nil, Config{PadStrategy: "middle"})
	assert.Error(t, err)
	_, err = New(&Manifest{}, ds.loader, ds.extractor, nil, Config{})
	assert.Error(t, err)

	assert.Equal(t, PadRandom, ds.cfg.PadStrategy)
	assert.Equal(t, 1, ds.cfg.NAugment)
}
