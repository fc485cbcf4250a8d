// Package visualize renders a run's embeddings and per-fold diagnostic
// accuracy. Every plot is described once as PlotData, saved as JSON for
// external tools and rendered to PNG with gonum/plot.
package visualize

import (
	"encoding/json"
	"time"
)

// PlotType identifies what a PlotData describes
type PlotType string

const (
	EmbeddingScatter PlotType = "embedding_scatter"
	AccuracyCurves   PlotType = "accuracy_curves"
)

// Series types
const (
	SeriesScatter = "scatter"
	SeriesLine    = "line"
)

// PlotData is the serialisable description of one plot
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData is a single named series
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"` // "scatter" or "line"
	Data []DataPoint `json:"data"`
}

// DataPoint is one point; Label names the sample behind it, if any
type DataPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label,omitempty"`
}

// PlotConfig holds axis labels and canvas settings
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`  // points
	Height     int    `json:"height"` // points
}

// ToJSON converts plot data to indented JSON
func (pd PlotData) ToJSON() ([]byte, error) {
	return json.MarshalIndent(pd, "", "  ")
}
