package visualize

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/evaluation"
)

// EmbeddingScatterPlot projects emb onto its first two principal components
// and groups the points by class, one scatter series per class. filenames
// may be nil; when present it labels each point.
func EmbeddingScatterPlot(emb *evaluation.Embeddings, labels *evaluation.LabelSet, filenames []string) (PlotData, error) {
	if emb == nil || labels == nil {
		return PlotData{}, errors.New("embeddings and labels are required")
	}
	if len(emb.Shape) != 2 {
		return PlotData{}, errors.Errorf("embeddings must be 2-D, got shape %v", emb.Shape)
	}
	n := emb.Shape[0]
	if len(labels.Labels) != n {
		return PlotData{}, errors.Errorf("%d embeddings but %d labels", n, len(labels.Labels))
	}

	X := make([][]float64, n)
	for i := range X {
		row := emb.Row(i)
		X[i] = make([]float64, len(row))
		for j, v := range row {
			X[i][j] = float64(v)
		}
	}
	proj, explained, err := PCA(X, 2)
	if err != nil {
		return PlotData{}, errors.Wrap(err, "embedding projection")
	}

	byClass := make(map[int][]DataPoint)
	var order []int
	for i, p := range proj {
		c := labels.Labels[i]
		if _, ok := byClass[c]; !ok {
			order = append(order, c)
		}
		pt := DataPoint{X: p[0]}
		if len(p) > 1 {
			pt.Y = p[1]
		}
		if i < len(filenames) {
			pt.Label = filenames[i]
		}
		byClass[c] = append(byClass[c], pt)
	}

	pd := PlotData{
		PlotType:  EmbeddingScatter,
		Title:     "Embeddings (PCA)",
		Timestamp: time.Now(),
		Config: PlotConfig{
			XAxisLabel: axisLabel("PC1", explained, 0),
			YAxisLabel: axisLabel("PC2", explained, 1),
			ShowLegend: true,
			Width:      600,
			Height:     600,
		},
		Metrics: map[string]interface{}{
			"samples":            n,
			"embedding_dim":      emb.Shape[1],
			"explained_variance": explained,
		},
	}
	for c := 0; c <= maxInt(order); c++ {
		pts, ok := byClass[c]
		if !ok {
			continue
		}
		name := fmt.Sprintf("class %d", c)
		if c >= 0 && c < len(labels.Classes) {
			name = labels.Classes[c]
		}
		pd.Series = append(pd.Series, SeriesData{Name: name, Type: SeriesScatter, Data: pts})
	}
	return pd, nil
}

func axisLabel(name string, explained []float64, i int) string {
	if i >= len(explained) {
		return name
	}
	return fmt.Sprintf("%s (%.1f%%)", name, explained[i]*100)
}

func maxInt(xs []int) int {
	m := -1
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
