// Package runctx carries the side-effecting collaborators of a training run:
// the logger, the filesystem and the run directory. Components receive a
// *Context at construction instead of reaching for globals, so tests can run
// against an in-memory filesystem with an observing logger.
package runctx

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/checkpoints"
	"go.uber.org/zap"
)

// Context is the explicit run state shared by a training invocation
type Context struct {
	Logger   *zap.Logger
	Fs       afero.Fs
	Root     string    // run directory; every relative path resolves against it
	Progress io.Writer // progress bars; io.Discard to silence
	RunID    string    // human readable run name
	RunUUID  string    // unique id stamped into artifacts
}

// New creates a context rooted at root
func New(logger *zap.Logger, fs afero.Fs, root string) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Context{
		Logger:   logger,
		Fs:       fs,
		Root:     root,
		Progress: io.Discard,
		RunID:    filepath.Base(root),
		RunUUID:  uuid.NewString(),
	}
}

// NewNop returns a context over an empty in-memory filesystem that logs
// nothing and draws no progress
func NewNop() *Context {
	return New(zap.NewNop(), afero.NewMemMapFs(), "run")
}

// Path joins elem onto the run directory
func (c *Context) Path(elem ...string) string {
	return filepath.Join(append([]string{c.Root}, elem...)...)
}

// Sub returns a context rooted at dir inside this one, logging with fields
func (c *Context) Sub(dir string, fields ...zap.Field) *Context {
	sub := *c
	sub.Root = c.Path(dir)
	sub.Logger = c.Logger.With(fields...)
	return &sub
}

// MkdirAll creates rel (and parents) inside the run directory
func (c *Context) MkdirAll(rel string) error {
	return c.Fs.MkdirAll(c.Path(rel), 0o755)
}

// WriteFile atomically replaces rel with data
func (c *Context) WriteFile(rel string, data []byte) error {
	return checkpoints.WriteFileAtomic(c.Fs, c.Path(rel), data)
}

// WriteJSON atomically writes v as indented JSON
func (c *Context) WriteJSON(rel string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", rel, err)
	}
	return c.WriteFile(rel, append(data, '\n'))
}

// ReadFile reads rel from the run directory
func (c *Context) ReadFile(rel string) ([]byte, error) {
	return afero.ReadFile(c.Fs, c.Path(rel))
}

// GenerateRunID returns jobName when set and otherwise a timestamp of the
// form YYYYMMDD_HHMMSS
func GenerateRunID(jobName string, now time.Time) string {
	if jobName != "" {
		return jobName
	}
	return now.Format("20060102_150405")
}
