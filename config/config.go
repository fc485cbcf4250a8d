// Package config holds the experiment parameters of a training run. Files
// are YAML (JSON also parses, being a subset); anything a file leaves out
// keeps its default.
package config

import (
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/artifacts"
	"github.com/tsawler/go-supcon/audio/dataset"
	"github.com/tsawler/go-supcon/audio/preprocessing"
	"github.com/tsawler/go-supcon/checkpoints"
	"github.com/tsawler/go-supcon/forest"
	"github.com/tsawler/go-supcon/optimizer"
	"github.com/tsawler/go-supcon/runctx"
	"github.com/tsawler/go-supcon/training"
)

// SnapshotFile is written to the run directory once per run
const SnapshotFile = "config.json"

// Params is the full set of experiment parameters
type Params struct {
	JobName   string `yaml:"job_name" json:"job_name"`
	DataPath  string `yaml:"data_path" json:"data_path"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	Seed      int64  `yaml:"seed" json:"seed"`
	Workers   int    `yaml:"workers" json:"workers"`
	Prefetch  int    `yaml:"prefetch" json:"prefetch"`

	Audio      AudioParams                 `yaml:"audio" json:"audio"`
	Features   FeatureParams               `yaml:"features" json:"features"`
	Augment    preprocessing.AugmentConfig `yaml:"augment" json:"augment"`
	Model      ModelParams                 `yaml:"model" json:"model"`
	Optimizer  optimizer.Config            `yaml:"optimizer" json:"optimizer"`
	Training   TrainingParams              `yaml:"training" json:"training"`
	Diagnostic DiagnosticParams            `yaml:"diagnostic" json:"diagnostic"`
	Checkpoint CheckpointParams            `yaml:"checkpoint" json:"checkpoint"`
	Artifacts  artifacts.Options           `yaml:"artifacts" json:"artifacts"`
}

// AudioParams controls loading and shaping of waveforms
type AudioParams struct {
	TargetSR    int    `yaml:"target_sr" json:"target_sr"`
	MaxLength   int    `yaml:"max_length" json:"max_length"` // samples; 0 = estimate from data
	PadStrategy string `yaml:"pad_strategy" json:"pad_strategy"`
	NAugment    int    `yaml:"n_augment" json:"n_augment"`
	WaveAugment bool   `yaml:"wave_augment" json:"wave_augment"`
	CacheDir    string `yaml:"cache_dir" json:"cache_dir"` // empty disables the wave cache
}

// FeatureParams selects the feature extractor
type FeatureParams struct {
	Type      string  `yaml:"type" json:"type"`
	NMFCC     int     `yaml:"n_mfcc" json:"n_mfcc"`
	NMels     int     `yaml:"n_mels" json:"n_mels"`
	NFFT      int     `yaml:"n_fft" json:"n_fft"`
	HopLength int     `yaml:"hop_length" json:"hop_length"`
	FMin      float64 `yaml:"f_min" json:"f_min"`
	FMax      float64 `yaml:"f_max" json:"f_max"`
	UseMFCC   bool    `yaml:"use_mfcc" json:"use_mfcc"`
	UseMel    bool    `yaml:"use_mel" json:"use_mel"`
}

// ModelParams shapes the embedding network
type ModelParams struct {
	Hidden       []int   `yaml:"hidden" json:"hidden"`
	EmbeddingDim int     `yaml:"embedding_dim" json:"embedding_dim"`
	Dropout      float32 `yaml:"dropout" json:"dropout"`
}

// TrainingParams controls the contrastive training loop
type TrainingParams struct {
	Loss             string                   `yaml:"loss" json:"loss"`
	Temperature      float64                  `yaml:"temperature" json:"temperature"`
	NViews           int                      `yaml:"n_views" json:"n_views"`
	NClassesPerBatch int                      `yaml:"n_classes_per_batch" json:"n_classes_per_batch"`
	BatchSize        int                      `yaml:"batch_size" json:"batch_size"`
	NumEpochs        int                      `yaml:"num_epochs" json:"num_epochs"`
	EvalEvery        int                      `yaml:"eval_classifier_every" json:"eval_classifier_every"`
	EvalBatchSize    int                      `yaml:"eval_batch_size" json:"eval_batch_size"`
	HoldoutFraction  float64                  `yaml:"holdout_fraction" json:"holdout_fraction"`
	KFolds           int                      `yaml:"k_folds" json:"k_folds"`
	Scheduler        training.SchedulerConfig `yaml:"scheduler" json:"scheduler"`
}

// DiagnosticParams configures the random-forest probe
type DiagnosticParams struct {
	Mode     string        `yaml:"mode" json:"mode"`
	TestSize float64       `yaml:"test_size" json:"test_size"`
	Forest   forest.Config `yaml:"forest" json:"forest"`
}

// CheckpointParams controls checkpoint encoding
type CheckpointParams struct {
	Format        string `yaml:"format" json:"format"`
	SaveOptimizer bool   `yaml:"save_optimizer_state" json:"save_optimizer_state"`
}

// Default returns the parameters used when no file is given
func Default() *Params {
	fold := training.DefaultFoldConfig()
	diag := training.DefaultDiagnosticConfig()
	feat := preprocessing.DefaultFeatureConfig()
	return &Params{
		OutputDir: "runs",
		LogLevel:  "info",
		Seed:      42,
		Workers:   fold.Workers,
		Prefetch:  fold.PrefetchDepth,
		Audio: AudioParams{
			TargetSR:    16000,
			PadStrategy: dataset.PadRandom,
			NAugment:    1,
			WaveAugment: true,
		},
		Features: FeatureParams{
			Type:      feat.Type,
			NMFCC:     feat.NMFCC,
			NMels:     feat.NMels,
			NFFT:      feat.NFFT,
			HopLength: feat.HopLength,
			UseMFCC:   true,
		},
		Augment: preprocessing.DefaultAugmentConfig(),
		Model: ModelParams{
			Hidden:       []int{256},
			EmbeddingDim: 128,
			Dropout:      0.1,
		},
		Optimizer: optimizer.Config{Name: "adam", LearningRate: 1e-3},
		Training: TrainingParams{
			Loss:             fold.Loss.String(),
			Temperature:      fold.Temperature,
			NViews:           fold.NViews,
			NClassesPerBatch: fold.NClassesPerBatch,
			BatchSize:        fold.BatchSize,
			NumEpochs:        fold.Epochs,
			EvalEvery:        fold.EvalEvery,
			EvalBatchSize:    fold.EvalBatchSize,
			HoldoutFraction:  fold.HoldoutFraction,
			Scheduler:        training.SchedulerConfig{Name: "constant"},
		},
		Diagnostic: DiagnosticParams{
			Mode:     diag.Mode.String(),
			TestSize: diag.TestSize,
			Forest:   diag.Forest,
		},
		Checkpoint: CheckpointParams{Format: "proto"},
		Artifacts:  artifacts.Options{Backend: artifacts.BackendNone},
	}
}

// Load reads path over the defaults and validates the result
func Load(fs afero.Fs, path string) (*Params, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal renders p as YAML
func (p *Params) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Snapshot writes the resolved parameters to the run directory
func (p *Params) Snapshot(rc *runctx.Context) error {
	return rc.WriteJSON(SnapshotFile, p)
}

func invalid(param string, value interface{}, reason string) error {
	return &training.ConfigurationError{Param: param, Value: value, Reason: reason}
}

// Validate reports the first invalid parameter as a
// *training.ConfigurationError
func (p *Params) Validate() error {
	if p.Audio.TargetSR <= 0 {
		return invalid("target_sr", p.Audio.TargetSR, "must be positive")
	}
	if p.Audio.MaxLength < 0 {
		return invalid("max_length", p.Audio.MaxLength, "must not be negative")
	}
	switch p.Audio.PadStrategy {
	case dataset.PadRandom, dataset.PadLeft, dataset.PadRight:
	default:
		return invalid("pad_strategy", p.Audio.PadStrategy, "expected random, left or right")
	}
	if p.Audio.NAugment < 1 {
		return invalid("n_augment", p.Audio.NAugment, "must be at least 1")
	}

	switch strings.ToLower(p.Features.Type) {
	case preprocessing.FeatureMFCC, preprocessing.FeatureLogMel, preprocessing.FeatureCombined:
	default:
		return invalid("features.type", p.Features.Type, "expected mfcc, mel or combined")
	}
	if p.Features.NMFCC > p.Features.NMels {
		return invalid("n_mfcc", p.Features.NMFCC, "must not exceed n_mels")
	}

	if p.Model.EmbeddingDim < 1 {
		return invalid("embedding_dim", p.Model.EmbeddingDim, "must be at least 1")
	}
	for _, h := range p.Model.Hidden {
		if h < 1 {
			return invalid("hidden", p.Model.Hidden, "layer sizes must be positive")
		}
	}
	if p.Model.Dropout < 0 || p.Model.Dropout >= 1 {
		return invalid("dropout", p.Model.Dropout, "must be in [0, 1)")
	}

	switch strings.ToLower(p.Optimizer.Name) {
	case "adam", "sgd":
	default:
		return invalid("optimizer", p.Optimizer.Name, "expected adam or sgd")
	}
	if !(p.Optimizer.LearningRate > 0) {
		return invalid("learning_rate", p.Optimizer.LearningRate, "must be positive")
	}

	if p.Training.KFolds == 1 || p.Training.KFolds < 0 {
		return invalid("k_folds", p.Training.KFolds, "use 0 to disable or at least 2")
	}
	if _, err := training.NewScheduler(p.Training.Scheduler, 1); err != nil {
		return err
	}
	fold, err := p.FoldConfig()
	if err != nil {
		return err
	}
	if err := fold.Validate(); err != nil {
		return err
	}
	if fold.Diagnostic.Mode == training.HoldOut && (p.Diagnostic.TestSize <= 0 || p.Diagnostic.TestSize >= 1) {
		return invalid("test_size", p.Diagnostic.TestSize, "must be in (0, 1)")
	}
	if p.Diagnostic.Forest.NumTrees < 1 {
		return invalid("n_estimators", p.Diagnostic.Forest.NumTrees, "must be at least 1")
	}

	switch p.Artifacts.Backend {
	case "", artifacts.BackendNone:
	case artifacts.BackendLocal:
		if p.Artifacts.Dir == "" {
			return invalid("artifacts.dir", p.Artifacts.Dir, "required for the local backend")
		}
	case artifacts.BackendS3:
		if p.Artifacts.Bucket == "" {
			return invalid("artifacts.bucket", p.Artifacts.Bucket, "required for the s3 backend")
		}
	default:
		return invalid("artifacts.backend", p.Artifacts.Backend, "expected none, local or s3")
	}
	return nil
}

// FoldConfig converts the training section for the fold runner
func (p *Params) FoldConfig() (training.FoldConfig, error) {
	loss, err := training.ParseLossKind(p.Training.Loss)
	if err != nil {
		return training.FoldConfig{}, err
	}
	mode, err := training.ParseDiagnosticMode(p.Diagnostic.Mode)
	if err != nil {
		return training.FoldConfig{}, err
	}
	format, err := checkpoints.ParseFormat(p.Checkpoint.Format)
	if err != nil {
		return training.FoldConfig{}, invalid("checkpoint.format", p.Checkpoint.Format, err.Error())
	}

	forestCfg := p.Diagnostic.Forest
	forestCfg.Seed = p.Seed
	return training.FoldConfig{
		Epochs:           p.Training.NumEpochs,
		EvalEvery:        p.Training.EvalEvery,
		Loss:             loss,
		Temperature:      p.Training.Temperature,
		NViews:           p.Training.NViews,
		NClassesPerBatch: p.Training.NClassesPerBatch,
		BatchSize:        p.Training.BatchSize,
		EvalBatchSize:    p.Training.EvalBatchSize,
		HoldoutFraction:  p.Training.HoldoutFraction,
		Seed:             p.Seed,
		Workers:          p.Workers,
		PrefetchDepth:    p.Prefetch,
		Scheduler:        p.Training.Scheduler,
		Diagnostic: training.DiagnosticConfig{
			Mode:     mode,
			TestSize: p.Diagnostic.TestSize,
			Forest:   forestCfg,
		},
		CheckpointFormat: format,
		SaveOptimizer:    p.Checkpoint.SaveOptimizer,
	}, nil
}

// CrossValidationConfig converts k_folds and the seed
func (p *Params) CrossValidationConfig() training.CrossValidationConfig {
	return training.CrossValidationConfig{KFolds: p.Training.KFolds, Seed: p.Seed}
}

// FeatureConfig converts the feature section; the sample rate is the
// target rate of the audio section
func (p *Params) FeatureConfig() preprocessing.FeatureConfig {
	return preprocessing.FeatureConfig{
		Type: strings.ToLower(p.Features.Type),
		MelConfig: preprocessing.MelConfig{
			SampleRate: p.Audio.TargetSR,
			NFFT:       p.Features.NFFT,
			HopLength:  p.Features.HopLength,
			NMels:      p.Features.NMels,
			FMin:       p.Features.FMin,
			FMax:       p.Features.FMax,
		},
		NMFCC:   p.Features.NMFCC,
		UseMFCC: p.Features.UseMFCC,
		UseMel:  p.Features.UseMel,
	}
}

// DatasetConfig converts the audio section
func (p *Params) DatasetConfig() dataset.Config {
	return dataset.Config{
		MaxLength:   p.Audio.MaxLength,
		PadStrategy: p.Audio.PadStrategy,
		NAugment:    p.Audio.NAugment,
		WaveAugment: p.Audio.WaveAugment,
		Seed:        p.Seed,
	}
}
