package artifacts

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tsawler/go-supcon/training"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Mirror uploads every file under dir to store, keyed by prefix plus the
// file's slash-separated path relative to dir. A failed file does not stop
// the others; the returned error combines all failures.
func Mirror(ctx context.Context, fsys afero.Fs, dir string, store FileStore, prefix string) (int, error) {
	var copied int
	var errs error
	walkErr := afero.Walk(fsys, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := upload(ctx, fsys, p, store, key); err != nil {
			errs = multierr.Append(errs, errors.WithMessagef(err, "upload %s", key))
			return nil
		}
		copied++
		return nil
	})
	return copied, multierr.Append(errs, walkErr)
}

func upload(ctx context.Context, fsys afero.Fs, src string, store FileStore, key string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := store.Write(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FoldHook returns a post-fold callback that mirrors the fold directory to
// store under <runID>/<fold dir name>. Failures are logged and returned so
// the controller records them on the fold.
func FoldHook(fsys afero.Fs, store FileStore, runID string, logger *zap.Logger) func(context.Context, *training.FoldResult) error {
	return func(ctx context.Context, res *training.FoldResult) error {
		dest := path.Join(runID, filepath.Base(res.Dir))
		n, err := Mirror(ctx, fsys, res.Dir, store, dest)
		if err != nil {
			logger.Error("artifact mirror failed", zap.Int("fold", res.Fold), zap.String("dest", dest), zap.Error(err))
			return err
		}
		logger.Info("artifacts mirrored", zap.Int("fold", res.Fold), zap.String("dest", dest), zap.Int("files", n))
		return nil
	}
}
