package dataset

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// WaveCache stores decoded, resampled waveforms between epochs and runs
type WaveCache interface {
	Get(path string, rate int) ([]float32, bool, error)
	Put(path string, rate int, samples []float32) error
	Close() error
}

type cachedWave struct {
	Rate    int       `msgpack:"rate"`
	Samples []float32 `msgpack:"samples"`
}

// BadgerCache is a WaveCache backed by BadgerDB. Values are msgpack-encoded.
type BadgerCache struct {
	db *badger.DB
}

// BadgerCacheOptions configures the cache. An empty Dir with InMemory unset
// is an error.
type BadgerCacheOptions struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// OpenBadgerCache opens (or creates) the cache
func OpenBadgerCache(opts BadgerCacheOptions) (*BadgerCache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger cache needs a directory for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger.Sugar().Named("badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger cache")
	}
	return &BadgerCache{db: db}, nil
}

func cacheKey(path string, rate int) []byte {
	return []byte(fmt.Sprintf("wave/%d/%s", rate, path))
}

func (c *BadgerCache) Get(path string, rate int) ([]float32, bool, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(path, rate))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var w cachedWave
	if err := msgpack.Unmarshal(val, &w); err != nil {
		return nil, false, errors.Wrapf(err, "decode cached %s", path)
	}
	if w.Rate != rate {
		return nil, false, nil
	}
	return w.Samples, true, nil
}

func (c *BadgerCache) Put(path string, rate int, samples []float32) error {
	val, err := msgpack.Marshal(cachedWave{Rate: rate, Samples: samples})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(path, rate), val)
	})
}

func (c *BadgerCache) Close() error { return c.db.Close() }

// badgerLogger routes badger's messages to zap, demoting info to debug
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
