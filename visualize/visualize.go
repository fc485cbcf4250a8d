package visualize

import (
	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/evaluation"
	"github.com/tsawler/go-supcon/runctx"
	"go.uber.org/zap"
)

// Output file names, relative to the run directory
const (
	PlotsDir           = "plots"
	EmbeddingsPlotName = "embeddings_pca"
	AccuracyCurvesName = "accuracy_curves"
)

// Result lists what Run wrote
type Result struct {
	Files []string
}

// Run renders whatever the run directory holds: an embedding scatter when
// evaluation output is present and accuracy curves when fold metrics are.
// It fails only when neither exists.
func Run(rc *runctx.Context) (*Result, error) {
	res := &Result{}

	emb, labels, filenames, err := evaluation.Read(rc.Fs, rc.Root)
	switch {
	case err != nil:
		rc.Logger.Info("no embeddings to plot", zap.Error(err))
	default:
		pd, err := EmbeddingScatterPlot(emb, labels, filenames)
		if err != nil {
			return nil, err
		}
		pd.RunID = rc.RunID
		files, err := write(rc, EmbeddingsPlotName, pd)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, files...)
	}

	curves, err := CollectCurves(rc.Fs, rc.Root)
	if err != nil {
		return nil, err
	}
	if len(curves) > 0 {
		pd := AccuracyCurvesPlot(curves)
		pd.RunID = rc.RunID
		files, err := write(rc, AccuracyCurvesName, pd)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, files...)
	}

	if len(res.Files) == 0 {
		return nil, errors.Errorf("nothing to plot in %s", rc.Root)
	}
	rc.Logger.Info("plots written", zap.Strings("files", res.Files))
	return res, nil
}

func write(rc *runctx.Context, name string, pd PlotData) ([]string, error) {
	js, err := pd.ToJSON()
	if err != nil {
		return nil, errors.Wrap(err, "encode plot data")
	}
	img, err := Render(pd)
	if err != nil {
		return nil, errors.Wrapf(err, "render %s", name)
	}
	jsonPath := rc.Path(PlotsDir, name+".json")
	pngPath := rc.Path(PlotsDir, name+".png")
	if err := rc.WriteFile(PlotsDir+"/"+name+".json", js); err != nil {
		return nil, err
	}
	if err := rc.WriteFile(PlotsDir+"/"+name+".png", img); err != nil {
		return nil, err
	}
	return []string{jsonPath, pngPath}, nil
}
