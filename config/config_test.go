package config

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-supcon/artifacts"
	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/runctx"
	"github.com/tsawler/go-supcon/training"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	fold, err := p.FoldConfig()
	require.NoError(t, err)
	assert.Equal(t, training.SupervisedContrastive, fold.Loss)
	assert.Equal(t, training.InSample, fold.Diagnostic.Mode)
	assert.Equal(t, checkpoints.FormatProto, fold.CheckpointFormat)
	assert.Equal(t, 50, fold.Epochs)
	assert.False(t, p.CrossValidationConfig().Enabled())
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "exp.yaml", []byte(`
job_name: vowels
data_path: data/raw
seed: 7
audio:
  n_augment: 3
  pad_strategy: left
features:
  type: combined
  use_mel: true
model:
  hidden: [64, 32]
training:
  loss: ntxent
  temperature: 0.5
  batch_size: 16
  k_folds: 5
  scheduler:
    name: cosine
diagnostic:
  mode: holdout
  forest:
    n_estimators: 20
checkpoint:
  format: json
`), 0o644))

	p, err := Load(fs, "exp.yaml")
	require.NoError(t, err)

	assert.Equal(t, "vowels", p.JobName)
	assert.Equal(t, 3, p.Audio.NAugment)
	assert.Equal(t, 16000, p.Audio.TargetSR, "unset keys keep their defaults")
	assert.Equal(t, []int{64, 32}, p.Model.Hidden)
	assert.Equal(t, 128, p.Model.EmbeddingDim)

	fold, err := p.FoldConfig()
	require.NoError(t, err)
	assert.Equal(t, training.NTXent, fold.Loss)
	assert.Equal(t, 0.5, fold.Temperature)
	assert.Equal(t, training.HoldOut, fold.Diagnostic.Mode)
	assert.Equal(t, 20, fold.Diagnostic.Forest.NumTrees)
	assert.Equal(t, int64(7), fold.Diagnostic.Forest.Seed)
	assert.Equal(t, checkpoints.FormatJSON, fold.CheckpointFormat)
	assert.Equal(t, "cosine", fold.Scheduler.Name)

	cv := p.CrossValidationConfig()
	assert.Equal(t, 5, cv.KFolds)
	assert.Equal(t, int64(7), cv.Seed)

	feat := p.FeatureConfig()
	assert.Equal(t, "combined", feat.Type)
	assert.Equal(t, 16000, feat.SampleRate)
	assert.True(t, feat.UseMFCC && feat.UseMel)

	ds := p.DatasetConfig()
	assert.Equal(t, "left", ds.PadStrategy)
	assert.Equal(t, int64(7), ds.Seed)
}

func TestLoadJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "exp.json", []byte(`{"training": {"num_epochs": 3, "eval_classifier_every": 1}}`), 0o644))

	p, err := Load(fs, "exp.json")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Training.NumEpochs)
	assert.Equal(t, 1, p.Training.EvalEvery)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "missing.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("training: [1, 2"), 0o644))
	_, err = Load(fs, "bad.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "invalid.yaml", []byte("training:\n  k_folds: 1\n"), 0o644))
	_, err = Load(fs, "invalid.yaml")
	assert.ErrorIs(t, err, training.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		param  string
		mutate func(p *Params)
	}{
		{"target_sr", func(p *Params) { p.Audio.TargetSR = 0 }},
		{"pad_strategy", func(p *Params) { p.Audio.PadStrategy = "middle" }},
		{"n_augment", func(p *Params) { p.Audio.NAugment = 0 }},
		{"features.type", func(p *Params) { p.Features.Type = "wavelet" }},
		{"n_mfcc", func(p *Params) { p.Features.NMFCC = 100 }},
		{"embedding_dim", func(p *Params) { p.Model.EmbeddingDim = 0 }},
		{"hidden", func(p *Params) { p.Model.Hidden = []int{16, 0} }},
		{"dropout", func(p *Params) { p.Model.Dropout = 1 }},
		{"optimizer", func(p *Params) { p.Optimizer.Name = "lion" }},
		{"learning_rate", func(p *Params) { p.Optimizer.LearningRate = 0 }},
		{"k_folds", func(p *Params) { p.Training.KFolds = 1 }},
		{"scheduler", func(p *Params) { p.Training.Scheduler.Name = "warmup" }},
		{"loss", func(p *Params) { p.Training.Loss = "triplet" }},
		{"temperature", func(p *Params) { p.Training.Temperature = 0 }},
		{"n_views", func(p *Params) { p.Training.Loss = "ntxent"; p.Training.NViews = 3 }},
		{"diagnostic_mode", func(p *Params) { p.Diagnostic.Mode = "cv" }},
		{"test_size", func(p *Params) { p.Diagnostic.Mode = "holdout"; p.Diagnostic.TestSize = 1 }},
		{"n_estimators", func(p *Params) { p.Diagnostic.Forest.NumTrees = 0 }},
		{"checkpoint.format", func(p *Params) { p.Checkpoint.Format = "onnx" }},
		{"artifacts.backend", func(p *Params) { p.Artifacts.Backend = "gcs" }},
		{"artifacts.bucket", func(p *Params) { p.Artifacts.Backend = artifacts.BackendS3 }},
		{"artifacts.dir", func(p *Params) { p.Artifacts.Backend = artifacts.BackendLocal }},
	}
	for _, test := range tests {
		t.Run(test.param, func(t *testing.T) {
			p := Default()
			test.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			var ce *training.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, test.param, ce.Param)
		})
	}
}

func TestSnapshot(t *testing.T) {
	rc := runctx.NewNop()
	p := Default()
	p.JobName = "snap"
	require.NoError(t, p.Snapshot(rc))

	data, err := rc.ReadFile(SnapshotFile)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "snap", decoded["job_name"])
	assert.Contains(t, decoded, "training")

	out, err := p.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "job_name: snap")
}
