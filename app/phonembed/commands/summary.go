package commands

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/montanaflynn/stats"
	"github.com/tsawler/go-supcon/training"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")
	failed  = lipgloss.Color("#ff5f87")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primary)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = cellStyle.Foreground(failed)
	footerStyle = lipgloss.NewStyle().Foreground(dim)
)

// renderSummary formats one row per fold and the mean and standard
// deviation of the best accuracies
func renderSummary(runID string, res *training.CrossValidationResult) string {
	rows := make([][]string, 0, len(res.Folds))
	for _, f := range res.Folds {
		row := []string{fmt.Sprint(f.Fold), "-", "-", "-", "-", "ok"}
		if r := f.Result; r != nil {
			row[1] = fmt.Sprint(r.TrainSize)
			row[2] = fmt.Sprint(r.ValSize)
			if !math.IsNaN(r.BestAccuracy) {
				row[3] = fmt.Sprintf("%.4f", r.BestAccuracy)
				row[4] = fmt.Sprint(r.BestEpoch)
			}
		}
		if f.Err != nil {
			row[5] = "failed: " + firstLine(f.Err.Error())
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		Headers("Fold", "Train", "Val", "Best acc", "Best epoch", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 5 && strings.HasPrefix(rows[row][5], "failed"):
				return errorStyle
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("Run " + runID))
	b.WriteByte('\n')
	b.WriteString(t.String())
	b.WriteByte('\n')
	b.WriteString(footerStyle.Render(accuracyLine(res.BestAccuracies()) + fmt.Sprintf("  (%s)", res.Duration.Round(time.Millisecond))))
	return b.String()
}

func accuracyLine(accs []float64) string {
	if len(accs) == 0 {
		return "no diagnostic accuracy recorded"
	}
	mean, err := stats.Mean(accs)
	if err != nil {
		return err.Error()
	}
	if len(accs) == 1 {
		return fmt.Sprintf("best accuracy %.4f", mean)
	}
	sd, err := stats.StandardDeviationSample(accs)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("best accuracy %.4f ± %.4f over %d folds", mean, sd, len(accs))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
