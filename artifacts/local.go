package artifacts

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// Local implements FileStore on an afero filesystem. All paths resolve
// relative to the root directory.
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if needed
func NewLocal(fsys afero.Fs, dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local store needs a directory")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{fs: fsys, root: dir}, nil
}

func (l *Local) resolve(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	return l.fs.Open(l.resolve(path))
}

func (l *Local) Write(_ context.Context, path string) (io.WriteCloser, error) {
	full := l.resolve(path)
	if err := l.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return l.fs.Create(full)
}

func (l *Local) Delete(_ context.Context, path string) error {
	err := l.fs.Remove(l.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	return afero.Exists(l.fs, l.resolve(path))
}

var _ FileStore = (*Local)(nil)
