package training

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func isErr(err, target error) bool { return errors.Is(err, target) }

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"configuration", &ConfigurationError{Param: "n_views", Value: 3, Reason: "bad"}, ErrConfiguration, "n_views=3"},
		{"insufficient", &InsufficientDataError{What: "validation samples", Have: 0, Need: 1}, ErrInsufficientData, "have 0, need 1"},
		{"numerical", &NumericalInstabilityError{Stage: "loss", Fold: 1, Epoch: 2, Batch: 3}, ErrNumericalInstability, "epoch 2 batch 3"},
		{"io", newIOError("write", "fold_1/models/best.pt", fs.ErrPermission), ErrIO, "best.pt"},
	}

	sentinels := []error{ErrConfiguration, ErrInsufficientData, ErrNumericalInstability, ErrIO}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			wrapped := errors.Wrap(test.err, "fold 1")
			for _, s := range sentinels {
				if got := errors.Is(wrapped, s); got != (s == test.sentinel) {
					t.Errorf("errors.Is(%v, %v) = %v", wrapped, s, got)
				}
			}
			if msg := test.err.Error(); !strings.Contains(msg, test.contains) {
				t.Errorf("message %q does not mention %q", msg, test.contains)
			}
		})
	}

	if !errors.Is(newIOError("write", "x", fs.ErrPermission), fs.ErrPermission) {
		t.Error("IOError should unwrap to its cause")
	}
	if newIOError("write", "x", nil) != nil {
		t.Error("newIOError(nil) should be nil")
	}
}
