// Package commands implements the phonembed CLI
package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tsawler/go-supcon/config"
	"github.com/tsawler/go-supcon/runctx"
	"go.uber.org/zap"
)

// App holds the collaborators every command uses
type App struct {
	Fs     afero.Fs
	Out    io.Writer // summaries and tables
	Err    io.Writer // error-level log lines and progress bars
	Now    func() time.Time
	Global GlobalFlags
}

// GlobalFlags are the persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	JobName    string
	DataPath   string
	OutputDir  string
	LogLevel   string
}

// NewApp returns an App on the OS filesystem and standard streams
func NewApp() *App {
	return &App{Fs: afero.NewOsFs(), Out: os.Stdout, Err: os.Stderr, Now: time.Now}
}

// Execute runs the CLI with os.Args
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return NewRootCommand(NewApp()).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree around app
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "phonembed",
		Short: "Contrastive phoneme embedding training",
		Long: `phonembed trains a feed-forward embedding network on short phoneme
recordings with a supervised contrastive (SupCon) or NT-Xent loss, and
tracks embedding quality with a random forest fitted on frozen embeddings.

The data directory holds .wav files whose names start with the phoneme
label (1 to 4 lowercase letters), e.g. "aa_speaker3_07.wav".

Every command works inside <output_dir>/<run id>. The run id is --job-name,
the job_name of the config file, or a YYYYMMDD_HHMMSS timestamp.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVarP(&app.Global.ConfigPath, "config", "c", "", "experiment config file (YAML or JSON); defaults apply when omitted")
	flags.StringVar(&app.Global.JobName, "job-name", "", "run id; overrides job_name from the config")
	flags.StringVar(&app.Global.DataPath, "data-path", "", "directory of .wav files; overrides data_path")
	flags.StringVar(&app.Global.OutputDir, "output-dir", "", "parent of run directories; overrides output_dir")
	flags.StringVar(&app.Global.LogLevel, "log-level", "", "debug, info, warn or error; overrides log_level")

	root.AddCommand(
		newTrainCommand(app),
		newEvaluateCommand(app),
		newVisualizeCommand(app),
		newVersionCommand(app),
	)
	return root
}

// params loads the config file (or defaults) and applies flag overrides
func (a *App) params() (*config.Params, error) {
	p := config.Default()
	if a.Global.ConfigPath != "" {
		loaded, err := config.Load(a.Fs, a.Global.ConfigPath)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	if a.Global.JobName != "" {
		p.JobName = a.Global.JobName
	}
	if a.Global.DataPath != "" {
		p.DataPath = a.Global.DataPath
	}
	if a.Global.OutputDir != "" {
		p.OutputDir = a.Global.OutputDir
	}
	if a.Global.LogLevel != "" {
		p.LogLevel = a.Global.LogLevel
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// runContext opens the run directory for p, logging to the console and to
// run_<timestamp>.log inside it. The returned function flushes the log.
func (a *App) runContext(p *config.Params) (*runctx.Context, func() error, error) {
	now := a.Now()
	root := filepath.Join(p.OutputDir, runctx.GenerateRunID(p.JobName, now))
	if err := a.Fs.MkdirAll(root, 0o755); err != nil {
		return nil, nil, err
	}

	logger, closeLog, err := runctx.NewLogger(runctx.LoggerConfig{
		Level:    p.LogLevel,
		Stdout:   a.Out,
		Stderr:   a.Err,
		FilePath: filepath.Join(root, "run_"+now.Format("20060102_150405")+".log"),
		Fs:       a.Fs,
	})
	if err != nil {
		return nil, nil, err
	}

	rc := runctx.New(logger, a.Fs, root)
	rc.Progress = a.Err
	logger.Info("run directory ready", zap.String("run_id", rc.RunID), zap.String("dir", root))
	return rc, closeLog, nil
}
