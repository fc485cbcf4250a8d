package training

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinels for the four failure classes. Every typed error below matches
// exactly one of them through errors.Is.
var (
	ErrConfiguration        = errors.New("configuration error")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrNumericalInstability = errors.New("numerical instability")
	ErrIO                   = errors.New("io error")
)

// ConfigurationError reports an invalid hyperparameter or combination of them
type ConfigurationError struct {
	Param  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%v: %s", e.Param, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// InsufficientDataError reports that the data cannot support the requested
// batch structure, or that a split is empty
type InsufficientDataError struct {
	What      string
	Have      int
	Need      int
	Fold      int
	Parameter string
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("insufficient data: %s (have %d, need %d)", e.What, e.Have, e.Need)
	if e.Parameter != "" {
		msg += " [" + e.Parameter + "]"
	}
	return msg
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// NumericalInstabilityError reports a non-finite loss or embedding. Epoch and
// Batch are 1-based; zero means unknown.
type NumericalInstabilityError struct {
	Stage string // "loss" or "embeddings"
	Fold  int
	Epoch int
	Batch int
	Value float64
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("non-finite %s (%v) at fold %d epoch %d batch %d", e.Stage, e.Value, e.Fold, e.Epoch, e.Batch)
}

func (e *NumericalInstabilityError) Is(target error) bool { return target == ErrNumericalInstability }

// IOError wraps a failed artifact write or read
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

func newIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
