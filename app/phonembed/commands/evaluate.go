package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-supcon/evaluation"
	"github.com/tsawler/go-supcon/training"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type evaluateFlags struct {
	checkpoint string
	fold       int
	kind       string
	score      bool
}

func newEvaluateCommand(app *App) *cobra.Command {
	var f evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Embed the whole dataset with a trained checkpoint",
		Long: `Embed every recording of the data directory, without augmentation, and
write embeddings.pt, labels.pt and filenames.txt to the run directory.

The checkpoint defaults to fold_<fold>/models/<kind>.pt of the run.

Examples:
  phonembed evaluate --job-name supcon_k5 --data-path data/phonemes
  phonembed evaluate --job-name supcon_k5 --fold 3 --kind last --score
  phonembed evaluate --checkpoint model.pt --job-name export`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.evaluate(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.checkpoint, "checkpoint", "", "checkpoint file; overrides --fold and --kind")
	cmd.Flags().IntVar(&f.fold, "fold", 1, "fold whose checkpoint to load")
	cmd.Flags().StringVar(&f.kind, "kind", "best", "checkpoint kind: best or last")
	cmd.Flags().BoolVar(&f.score, "score", false, "also score the embeddings with the random-forest diagnostic")
	return cmd
}

func (a *App) evaluate(cmd *cobra.Command, f evaluateFlags) (err error) {
	if f.kind != "best" && f.kind != "last" {
		return errors.Errorf("unknown checkpoint kind %q (want best or last)", f.kind)
	}
	p, err := a.params()
	if err != nil {
		return err
	}
	// every recording is embedded exactly once
	p.Audio.NAugment = 1

	rc, closeLog, err := a.runContext(p)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeLog()) }()

	path := f.checkpoint
	if path == "" {
		path = rc.Path(fmt.Sprintf("fold_%d", f.fold), "models", f.kind+".pt")
	}
	model, cp, err := evaluation.LoadModel(rc.Fs, path)
	if err != nil {
		return err
	}
	rc.Logger.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("epoch", cp.TrainingState.Epoch),
		zap.Float64("accuracy", cp.TrainingState.Accuracy))

	pl, err := buildPipeline(rc, p)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, pl.Close()) }()

	inputSize, err := pl.eval.InputSize()
	if err != nil {
		return err
	}
	if want := cp.ModelSpec.InputFeatures(); want != inputSize {
		return &training.ConfigurationError{
			Param:  "features",
			Value:  inputSize,
			Reason: fmt.Sprintf("checkpoint expects %d input features", want),
		}
	}

	cfg := evaluation.Config{
		BatchSize:     p.Training.EvalBatchSize,
		Workers:       p.Workers,
		PrefetchDepth: p.Prefetch,
	}
	if f.score {
		foldCfg, err := p.FoldConfig()
		if err != nil {
			return err
		}
		cfg.Diagnostic, err = training.NewEmbeddingDiagnostic(foldCfg.Diagnostic, rc.Logger)
		if err != nil {
			return err
		}
	}

	res, err := evaluation.Run(cmd.Context(), rc, model, pl.eval, pl.train.Manifest().Classes, cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Embedded %d samples (dim %d) into %s\n", res.Samples, res.Dim, rc.Root)
	if res.Diagnostic != nil {
		fmt.Fprintf(out, "Diagnostic accuracy %.4f, macro F1 %.4f\n", res.Diagnostic.Accuracy, res.Diagnostic.MacroF1)
	}
	return nil
}
