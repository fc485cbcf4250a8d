package commands

import (
	"github.com/spf13/cobra"
	"github.com/tsawler/go-supcon/artifacts"
	"github.com/tsawler/go-supcon/layers"
	"github.com/tsawler/go-supcon/training"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newTrainCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train an embedding network with k-fold or holdout validation",
		Long: `Train a fresh embedding network per fold.

Each fold writes fold_<id>/models/best.pt whenever the diagnostic accuracy
improves, fold_<id>/models/last.pt after the final epoch and
fold_<id>/metrics/accuracy.csv. The resolved configuration is saved once as
config.json in the run directory.

Examples:
  phonembed train --data-path data/phonemes
  phonembed train -c configs/supcon.yaml --job-name supcon_k5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.train(cmd)
		},
	}
}

func (a *App) train(cmd *cobra.Command) (err error) {
	p, err := a.params()
	if err != nil {
		return err
	}
	rc, closeLog, err := a.runContext(p)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLog()) }()
	log := rc.Logger

	if err := p.Snapshot(rc); err != nil {
		return err
	}

	pl, err := buildPipeline(rc, p)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, pl.Close()) }()

	inputSize, err := pl.train.InputSize()
	if err != nil {
		return err
	}
	spec, err := layers.BuildEmbeddingSpec(inputSize, p.Model.Hidden, p.Model.EmbeddingDim, p.Model.Dropout)
	if err != nil {
		return err
	}
	log.Info("model built",
		zap.Int("input", inputSize),
		zap.Ints("hidden", p.Model.Hidden),
		zap.Int("embedding_dim", p.Model.EmbeddingDim),
		zap.Int64("parameters", spec.TotalParameters))
	log.Debug(spec.Summary())

	foldCfg, err := p.FoldConfig()
	if err != nil {
		return err
	}
	runner, err := training.NewFoldRunner(rc, foldCfg,
		training.FoldData{Train: pl.train, Eval: pl.eval},
		training.NetworkFactory(spec, p.Optimizer, p.Seed), nil)
	if err != nil {
		return err
	}
	ctrl, err := training.NewCrossValidationController(rc, p.CrossValidationConfig(), runner)
	if err != nil {
		return err
	}
	if p.Audio.NAugment > 1 {
		ctrl.Groups = pl.train.Groups()
	}

	store, err := artifacts.Open(p.Artifacts, rc.Fs)
	if err != nil {
		return err
	}
	if store != nil {
		ctrl.OnFoldDone = artifacts.FoldHook(rc.Fs, store, rc.RunID, log)
	}

	res, runErr := ctrl.Run(cmd.Context(), pl.train.Len())
	if res != nil {
		if _, err := cmd.OutOrStdout().Write([]byte(renderSummary(rc.RunID, res) + "\n")); err != nil {
			runErr = multierr.Append(runErr, err)
		}
	}
	return runErr
}
