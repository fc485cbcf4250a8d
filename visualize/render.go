package visualize

import (
	"bytes"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Render draws pd as a PNG
func Render(pd PlotData) ([]byte, error) {
	p := plot.New()
	p.Title.Text = pd.Title
	p.X.Label.Text = pd.Config.XAxisLabel
	p.Y.Label.Text = pd.Config.YAxisLabel
	if pd.Config.ShowGrid {
		p.Add(plotter.NewGrid())
	}

	for i, s := range pd.Series {
		xys := make(plotter.XYs, len(s.Data))
		for j, d := range s.Data {
			xys[j].X, xys[j].Y = d.X, d.Y
		}
		switch s.Type {
		case SeriesScatter:
			sc, err := plotter.NewScatter(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "series %q", s.Name)
			}
			sc.GlyphStyle.Color = plotutil.Color(i)
			sc.GlyphStyle.Shape = plotutil.Shape(i)
			sc.GlyphStyle.Radius = vg.Points(3)
			p.Add(sc)
			if pd.Config.ShowLegend {
				p.Legend.Add(s.Name, sc)
			}
		case SeriesLine:
			line, points, err := plotter.NewLinePoints(xys)
			if err != nil {
				return nil, errors.Wrapf(err, "series %q", s.Name)
			}
			line.Color = plotutil.Color(i)
			points.GlyphStyle.Color = plotutil.Color(i)
			points.GlyphStyle.Shape = plotutil.Shape(i)
			p.Add(line, points)
			if pd.Config.ShowLegend {
				p.Legend.Add(s.Name, line, points)
			}
		default:
			return nil, errors.Errorf("series %q has unknown type %q", s.Name, s.Type)
		}
	}

	width, height := vg.Length(pd.Config.Width), vg.Length(pd.Config.Height)
	if width <= 0 {
		width = 6 * vg.Inch
	}
	if height <= 0 {
		height = 6 * vg.Inch
	}
	w, err := p.WriterTo(width, height, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
