package training

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroF1
	Accuracy
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroF1:
		return "MicroF1"
	case Accuracy:
		return "Accuracy"
	default:
		return fmt.Sprintf("MetricType(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Update adds predicted/true class pairs. Out-of-range classes are an error.
func (cm *ConfusionMatrix) Update(predicted, truth []int) error {
	if len(predicted) != len(truth) {
		return fmt.Errorf("predictions length mismatch: %d predictions, %d labels", len(predicted), len(truth))
	}
	for i := range predicted {
		p, y := predicted[i], truth[i]
		if y < 0 || y >= cm.NumClasses || p < 0 || p >= cm.NumClasses {
			return fmt.Errorf("class out of range at %d: true %d, predicted %d, classes %d", i, y, p, cm.NumClasses)
		}
		cm.Matrix[y][p]++
		cm.TotalSamples++
	}
	return nil
}

// GetMetric calculates an evaluation metric from the current counts
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.macroPrecision()
	case MacroRecall:
		return cm.macroRecall()
	case MacroF1:
		return harmonic(cm.macroPrecision(), cm.macroRecall())
	case MicroF1, Accuracy:
		// for single-label multi-class data micro F1 equals accuracy
		return cm.GetAccuracy()
	default:
		return 0
	}
}

func (cm *ConfusionMatrix) macroPrecision() float64 {
	sum, valid := 0.0, 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		predicted := 0.0
		for other := 0; other < cm.NumClasses; other++ {
			predicted += float64(cm.Matrix[other][class])
		}
		if predicted > 0 {
			sum += tp / predicted
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return sum / float64(valid)
}

func (cm *ConfusionMatrix) macroRecall() float64 {
	sum, valid := 0.0, 0
	for class := 0; class < cm.NumClasses; class++ {
		tp := float64(cm.Matrix[class][class])
		actual := 0.0
		for _, n := range cm.Matrix[class] {
			actual += float64(n)
		}
		if actual > 0 {
			sum += tp / actual
			valid++
		}
	}
	if valid == 0 {
		return 0
	}
	return sum / float64(valid)
}

func harmonic(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return 2 * a * b / (a + b)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// AccuracyRecord is one row of a fold's accuracy.csv
type AccuracyRecord struct {
	Epoch    int     `csv:"epoch"`
	Accuracy float64 `csv:"accuracy"`
}

var accuracyHeader = []string{"epoch", "accuracy"}

// MetricsLog is an append-only CSV of diagnostic results. The header is
// written when the log is created; each Append adds exactly one row.
type MetricsLog struct {
	fs      afero.Fs
	path    string
	mu      sync.Mutex
	records []AccuracyRecord
}

// NewMetricsLog creates (or truncates) the log at path and writes its header
func NewMetricsLog(fs afero.Fs, p string) (*MetricsLog, error) {
	if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, newIOError("create directory", filepath.Dir(p), err)
	}
	header := strings.Join(accuracyHeader, ",") + "\n"
	if err := afero.WriteFile(fs, p, []byte(header), 0o644); err != nil {
		return nil, newIOError("write", p, err)
	}
	return &MetricsLog{fs: fs, path: p}, nil
}

func (m *MetricsLog) Path() string { return m.path }

// Append writes one (epoch, accuracy) row. Accuracy is stored with four decimals.
func (m *MetricsLog) Append(epoch int, accuracy float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.fs.OpenFile(m.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return newIOError("open", m.path, err)
	}
	defer f.Close()

	rec := AccuracyRecord{Epoch: epoch, Accuracy: math.Round(accuracy*1e4) / 1e4}
	if err := gocsv.MarshalWithoutHeaders([]AccuracyRecord{rec}, f); err != nil {
		return newIOError("append", m.path, err)
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns the rows appended so far
func (m *MetricsLog) Records() []AccuracyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AccuracyRecord(nil), m.records...)
}

// ReadMetricsLog parses an accuracy.csv written by MetricsLog
func ReadMetricsLog(fs afero.Fs, p string) ([]AccuracyRecord, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, newIOError("open", p, err)
	}
	defer f.Close()

	var records []AccuracyRecord
	if err := gocsv.Unmarshal(f, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", p, err)
	}
	return records, nil
}
