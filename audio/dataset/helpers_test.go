package dataset

import "math/rand"

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func trimZeros(w []float32) []float32 {
	start, end := 0, len(w)
	for start < end && w[start] == 0 {
		start++
	}
	for end > start && w[end-1] == 0 {
		end--
	}
	return w[start:end]
}
