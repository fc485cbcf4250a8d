package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tsawler/go-supcon/visualize"
	"go.uber.org/multierr"
)

func newVisualizeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "visualize",
		Short: "Plot a run's embeddings and per-fold diagnostic accuracy",
		Long: `Render plots/embeddings_pca.png from the output of evaluate and
plots/accuracy_curves.png from every fold_<id>/metrics/accuracy.csv. Each
plot is also saved as JSON next to the image.

Example:
  phonembed visualize --job-name supcon_k5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			p, err := app.params()
			if err != nil {
				return err
			}
			rc, closeLog, err := app.runContext(p)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, closeLog()) }()

			res, err := visualize.Run(rc)
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}
