package visualize

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/training"
)

// FoldCurve is the diagnostic accuracy history of one fold
type FoldCurve struct {
	Fold    int
	Records []training.AccuracyRecord
}

// CollectCurves reads every fold_<id>/metrics/accuracy.csv under runDir,
// ordered by fold id
func CollectCurves(fs afero.Fs, runDir string) ([]FoldCurve, error) {
	matches, err := afero.Glob(fs, filepath.Join(runDir, "fold_*", "metrics", "accuracy.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "glob accuracy logs")
	}

	var curves []FoldCurve
	for _, m := range matches {
		dir := filepath.Base(filepath.Dir(filepath.Dir(m)))
		var id int
		if _, err := fmt.Sscanf(dir, "fold_%d", &id); err != nil {
			continue
		}
		records, err := training.ReadMetricsLog(fs, m)
		if err != nil {
			return nil, err
		}
		curves = append(curves, FoldCurve{Fold: id, Records: records})
	}
	sort.Slice(curves, func(i, j int) bool { return curves[i].Fold < curves[j].Fold })
	return curves, nil
}

// AccuracyCurvesPlot draws one line per fold of accuracy against epoch
func AccuracyCurvesPlot(curves []FoldCurve) PlotData {
	pd := PlotData{
		PlotType:  AccuracyCurves,
		Title:     "Diagnostic accuracy",
		Timestamp: time.Now(),
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Accuracy",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      720,
			Height:     480,
		},
		Metrics: make(map[string]interface{}),
	}

	for _, c := range curves {
		s := SeriesData{Name: fmt.Sprintf("fold %d", c.Fold), Type: SeriesLine}
		best := 0.0
		for _, r := range c.Records {
			s.Data = append(s.Data, DataPoint{X: float64(r.Epoch), Y: r.Accuracy})
			if r.Accuracy > best {
				best = r.Accuracy
			}
		}
		pd.Series = append(pd.Series, s)
		pd.Metrics[fmt.Sprintf("fold_%d_best", c.Fold)] = best
	}
	return pd
}
