package dataset

import (
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Clip is a decoded mono waveform normalised to [-1, 1]
type Clip struct {
	Samples    []float32
	SampleRate int
}

// DecodeWAV reads a PCM WAV stream and downmixes it to mono
func DecodeWAV(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	if d.WavAudioFormat != 1 {
		return nil, errors.Errorf("unsupported wav encoding %d, only PCM is supported", d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "decode pcm")
	}
	channels := buf.Format.NumChannels
	if channels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.Errorf("invalid wav format: %d channels at %d Hz", channels, buf.Format.SampleRate)
	}

	depth := buf.SourceBitDepth
	scale := math.Ldexp(1, depth-1)
	offset := 0.0
	if depth == 8 {
		// 8-bit PCM is unsigned
		offset = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / scale
		}
		samples[i] = float32(sum / float64(channels))
	}
	return &Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// LoadWAV decodes the WAV file at path
func LoadWAV(fs afero.Fs, path string) (*Clip, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return clip, nil
}

// Resample converts samples from one rate to another. The output always
// holds round(len*to/from) samples; the resampler's tail is zero-filled.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, errors.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create resampler")
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, errors.Wrap(err, "resample")
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	res := make([]float32, want)
	for i := 0; i < want && i < len(out); i++ {
		res[i] = float32(out[i])
	}
	return res, nil
}
