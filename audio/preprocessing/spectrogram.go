// Package preprocessing turns mono waveforms into time-frequency features
// (log-mel spectrograms and MFCCs) and applies spectrogram augmentations.
//
// Defaults follow the usual speech front-end convention:
//
//	SampleRate: 16000
//	NFFT:       400 (25 ms)
//	HopLength:  160 (10 ms)
//	NMels:      80
//	NMFCC:      40
//
// Frames are centred: the waveform is reflect-padded by NFFT/2 on both sides,
// so a signal of n samples yields n/HopLength + 1 frames.
package preprocessing

import "fmt"

// Spectrogram is a [Bins][Frames] feature matrix stored bin-major
type Spectrogram struct {
	Bins   int
	Frames int
	Data   []float32
}

// NewSpectrogram allocates a zeroed spectrogram
func NewSpectrogram(bins, frames int) *Spectrogram {
	return &Spectrogram{Bins: bins, Frames: frames, Data: make([]float32, bins*frames)}
}

// At returns the value of bin b at frame t
func (s *Spectrogram) At(b, t int) float32 { return s.Data[b*s.Frames+t] }

// Set stores v at bin b, frame t
func (s *Spectrogram) Set(b, t int, v float32) { s.Data[b*s.Frames+t] = v }

// Row returns the frames of bin b; it aliases the spectrogram
func (s *Spectrogram) Row(b int) []float32 { return s.Data[b*s.Frames : (b+1)*s.Frames] }

// Clone returns a deep copy
func (s *Spectrogram) Clone() *Spectrogram {
	return &Spectrogram{Bins: s.Bins, Frames: s.Frames, Data: append([]float32(nil), s.Data...)}
}

// Shape reports the spectrogram as a tensor shape
func (s *Spectrogram) Shape() []int { return []int{s.Bins, s.Frames} }

// Stack concatenates spectrograms along the bin axis. All inputs must have
// the same number of frames.
func Stack(parts ...*Spectrogram) (*Spectrogram, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	frames, bins := parts[0].Frames, 0
	for i, p := range parts {
		if p.Frames != frames {
			return nil, fmt.Errorf("part %d has %d frames, expected %d", i, p.Frames, frames)
		}
		bins += p.Bins
	}
	out := &Spectrogram{Bins: bins, Frames: frames, Data: make([]float32, 0, bins*frames)}
	for _, p := range parts {
		out.Data = append(out.Data, p.Data...)
	}
	return out, nil
}
