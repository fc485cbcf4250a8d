package runctx

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls NewLogger
type LoggerConfig struct {
	Level    string    // debug, info, warn, error
	Stdout   io.Writer // defaults to os.Stdout
	Stderr   io.Writer // defaults to os.Stderr
	FilePath string    // optional JSON log file on Fs
	Fs       afero.Fs
}

// NewLogger builds a console logger that splits output to stdout and stderr
// based on level, optionally teed into a JSON log file. The returned close
// function syncs and closes the file.
func NewLogger(cfg LoggerConfig) (*zap.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= level
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= level
	})

	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	console := zapcore.NewConsoleEncoder(consoleConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(cfg.Stderr)), isErrorLevel),
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(cfg.Stdout)), isInfoLevel),
	}

	closeFn := func() error { return nil }
	if cfg.FilePath != "" {
		fs := cfg.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		f, err := fs.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		fileConfig := zap.NewProductionEncoderConfig()
		fileConfig.EncodeTime = zapcore.RFC3339TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(f), level))
		closeFn = func() error {
			_ = f.Sync()
			return f.Close()
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}
