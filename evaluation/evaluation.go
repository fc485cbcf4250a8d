// Package evaluation embeds a whole dataset with a trained checkpoint and
// persists the embeddings, labels and source file names to the run
// directory.
package evaluation

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/layers"
	"github.com/tsawler/go-supcon/runctx"
	"github.com/tsawler/go-supcon/training"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Files written by Run, relative to the run directory
const (
	EmbeddingsFile = "embeddings.pt"
	LabelsFile     = "labels.pt"
	FilenamesFile  = "filenames.txt"
)

// Embeddings is an [N, D] float32 matrix
type Embeddings struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// Row returns embedding i; it aliases Data
func (e *Embeddings) Row(i int) []float32 {
	d := e.Shape[1]
	return e.Data[i*d : (i+1)*d]
}

// LabelSet holds the label of every embedding and the class names
type LabelSet struct {
	Labels  []int    `msgpack:"labels"`
	Classes []string `msgpack:"classes"`
}

// Source is a dataset that can name the file behind each sample
type Source interface {
	training.Dataset
	Path(idx int) string
}

// Config controls batching and the optional separability score
type Config struct {
	BatchSize     int
	Workers       int
	PrefetchDepth int
	// Diagnostic, when set, scores the embeddings with the random-forest probe
	Diagnostic *training.EmbeddingDiagnostic
}

// Result summarises an evaluation
type Result struct {
	Samples    int
	Dim        int
	Diagnostic *training.DiagnosticResult
}

// LoadModel rebuilds the network stored in a checkpoint, in eval mode
func LoadModel(fs afero.Fs, path string) (*layers.Network, *checkpoints.Checkpoint, error) {
	cp, err := checkpoints.NewCheckpointSaver(fs, checkpoints.FormatProto).LoadCheckpoint(path)
	if err != nil {
		return nil, nil, errors.WithMessage(err, path)
	}
	if cp.ModelSpec == nil {
		return nil, nil, errors.Errorf("checkpoint %s carries no model spec", path)
	}
	net, err := layers.NewNetwork(cp.ModelSpec, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rebuild network")
	}
	if err := checkpoints.LoadWeights(cp.Weights, net); err != nil {
		return nil, nil, errors.Wrap(err, "restore weights")
	}
	net.Eval()
	return net, cp, nil
}

// Run embeds every sample of data in order and writes EmbeddingsFile,
// LabelsFile and FilenamesFile to rc's directory.
func Run(ctx context.Context, rc *runctx.Context, model training.Model, data Source, classes []string, cfg Config) (*Result, error) {
	n := data.Len()
	if n == 0 {
		return nil, &training.InsufficientDataError{What: "samples to evaluate", Have: 0, Need: 1}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sampler, err := training.NewSequentialSampler(indices, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	loader, err := training.NewDataLoader(data, sampler, training.LoaderConfig{
		Views:         1,
		Workers:       cfg.Workers,
		PrefetchDepth: cfg.PrefetchDepth,
	})
	if err != nil {
		return nil, err
	}

	X, y, err := training.Embed(ctx, model, loader)
	if err != nil {
		return nil, err
	}
	res := &Result{Samples: len(X), Dim: len(X[0])}

	emb := &Embeddings{Shape: []int{res.Samples, res.Dim}, Data: make([]float32, 0, res.Samples*res.Dim)}
	for _, row := range X {
		for _, v := range row {
			emb.Data = append(emb.Data, float32(v))
		}
	}
	if err := writeMsgpack(rc, EmbeddingsFile, emb); err != nil {
		return nil, err
	}
	if err := writeMsgpack(rc, LabelsFile, &LabelSet{Labels: y, Classes: classes}); err != nil {
		return nil, err
	}
	var names strings.Builder
	for i := 0; i < n; i++ {
		names.WriteString(data.Path(i))
		names.WriteByte('\n')
	}
	if err := rc.WriteFile(FilenamesFile, []byte(names.String())); err != nil {
		return nil, &training.IOError{Op: "write", Path: rc.Path(FilenamesFile), Err: err}
	}

	rc.Logger.Info("embeddings written",
		zap.Int("samples", res.Samples),
		zap.Int("dim", res.Dim),
		zap.String("dir", rc.Root))

	if cfg.Diagnostic != nil {
		diag, err := cfg.Diagnostic.Score(ctx, X, y)
		if err != nil {
			return res, err
		}
		res.Diagnostic = diag
		rc.Logger.Info("embedding separability",
			zap.Float64("accuracy", diag.Accuracy),
			zap.Float64("macro_f1", diag.MacroF1))
	}
	return res, nil
}

func writeMsgpack(rc *runctx.Context, rel string, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", rel)
	}
	if err := rc.WriteFile(rel, data); err != nil {
		return &training.IOError{Op: "write", Path: rc.Path(rel), Err: err}
	}
	return nil
}

// Read loads the files written by Run from dir
func Read(fs afero.Fs, dir string) (*Embeddings, *LabelSet, []string, error) {
	rc := runctx.New(zap.NewNop(), fs, dir)

	var emb Embeddings
	if err := readMsgpack(rc, EmbeddingsFile, &emb); err != nil {
		return nil, nil, nil, err
	}
	if len(emb.Shape) != 2 || emb.Shape[0]*emb.Shape[1] != len(emb.Data) {
		return nil, nil, nil, errors.Errorf("%s: shape %v does not match %d values", EmbeddingsFile, emb.Shape, len(emb.Data))
	}
	var labels LabelSet
	if err := readMsgpack(rc, LabelsFile, &labels); err != nil {
		return nil, nil, nil, err
	}
	if len(labels.Labels) != emb.Shape[0] {
		return nil, nil, nil, errors.Errorf("%d labels for %d embeddings", len(labels.Labels), emb.Shape[0])
	}

	data, err := rc.ReadFile(FilenamesFile)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "read file names")
	}
	names := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	return &emb, &labels, names, nil
}

func readMsgpack(rc *runctx.Context, rel string, v interface{}) error {
	data, err := rc.ReadFile(rel)
	if err != nil {
		return errors.Wrapf(err, "read %s", rel)
	}
	return errors.Wrapf(msgpack.Unmarshal(data, v), "decode %s", rel)
}
