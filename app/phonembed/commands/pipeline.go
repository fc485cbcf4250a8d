package commands

import (
	"github.com/pkg/errors"
	"github.com/tsawler/go-supcon/audio/dataset"
	"github.com/tsawler/go-supcon/audio/preprocessing"
	"github.com/tsawler/go-supcon/config"
	"github.com/tsawler/go-supcon/runctx"
	"go.uber.org/zap"
)

// pipeline is the data side of a run: the augmenting training dataset and
// its eval-mode twin over the same manifest
type pipeline struct {
	train *dataset.PhonemeDataset
	eval  *dataset.PhonemeDataset
	cache *dataset.BadgerCache
}

func (pl *pipeline) Close() error {
	if pl.cache == nil {
		return nil
	}
	return pl.cache.Close()
}

func buildPipeline(rc *runctx.Context, p *config.Params) (*pipeline, error) {
	if p.DataPath == "" {
		return nil, errors.New("data_path is not set (use --data-path or the config file)")
	}
	manifest, err := dataset.ParseDirectory(rc.Fs, p.DataPath, rc.Logger)
	if err != nil {
		return nil, err
	}

	pl := &pipeline{}
	if p.Audio.CacheDir != "" {
		pl.cache, err = dataset.OpenBadgerCache(dataset.BadgerCacheOptions{Dir: p.Audio.CacheDir, Logger: rc.Logger})
		if err != nil {
			return nil, err
		}
	}
	var cache dataset.WaveCache
	if pl.cache != nil {
		cache = pl.cache
	}
	loader := dataset.NewLoader(rc.Fs, p.Audio.TargetSR, cache, rc.Logger)

	extractor, err := preprocessing.NewExtractor(p.FeatureConfig())
	if err != nil {
		pl.Close()
		return nil, err
	}
	ds, err := dataset.New(manifest, loader, extractor, preprocessing.BuildTransforms(p.Augment), p.DatasetConfig())
	if err != nil {
		pl.Close()
		return nil, err
	}
	pl.train = ds
	pl.eval = ds.WithMode(dataset.Eval)

	rc.Logger.Info("dataset ready",
		zap.Int("files", manifest.Len()),
		zap.Int("samples", ds.Len()),
		zap.Strings("classes", manifest.Classes),
		zap.Int("max_length", ds.MaxLength()),
		zap.String("features", p.Features.Type))
	return pl, nil
}
