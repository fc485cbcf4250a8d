// Package artifacts copies finished run artifacts (checkpoints, metrics,
// embeddings) to a FileStore: another local directory or an S3 bucket.
package artifacts

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. Missing files yield an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write truncates or creates the named file, with parents. The caller
	// must close the writer to flush.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file; missing files are not an error.
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// Backends accepted by Open
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Options selects and configures a backend
type Options struct {
	Backend   string `yaml:"backend" json:"backend"`
	Dir       string `yaml:"dir" json:"dir"` // local backend root
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // S3-compatible endpoint, e.g. MinIO
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// Enabled reports whether a backend other than none is selected
func (o Options) Enabled() bool {
	return o.Backend != "" && o.Backend != BackendNone
}

// Open builds the configured store. fs backs the local backend. Returns
// (nil, nil) when no backend is configured.
func Open(o Options, fs afero.Fs) (FileStore, error) {
	switch strings.ToLower(o.Backend) {
	case "", BackendNone:
		return nil, nil
	case BackendLocal:
		return NewLocal(fs, o.Dir)
	case BackendS3:
		if o.Bucket == "" {
			return nil, errors.New("s3 backend needs a bucket")
		}
		return NewS3(NewS3Client(o), o.Bucket, o.Prefix), nil
	default:
		return nil, errors.Errorf("unknown artifact backend %q", o.Backend)
	}
}
