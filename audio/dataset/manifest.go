// Package dataset discovers labelled phoneme recordings on disk and serves
// them as feature tensors for contrastive training.
package dataset

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var labelPattern = regexp.MustCompile(`^[a-z]{1,4}`)

// ExtractLabel returns the phoneme label encoded at the start of a file
// name: the first one to four lowercase letters of the stem, matched
// case-insensitively.
func ExtractLabel(path string) (string, error) {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	label := labelPattern.FindString(stem)
	if label == "" {
		return "", errors.Errorf("cannot extract label from %s", base)
	}
	return label, nil
}

// Manifest lists the usable recordings under a data directory
type Manifest struct {
	Paths       []string
	Labels      []int
	Classes     []string // label id -> name, sorted
	Lengths     []int    // samples at SampleRates[i]
	SampleRates []int
}

// Len is the number of recordings
func (m *Manifest) Len() int { return len(m.Paths) }

// LabelMap returns name -> id
func (m *Manifest) LabelMap() map[string]int {
	out := make(map[string]int, len(m.Classes))
	for i, c := range m.Classes {
		out[c] = i
	}
	return out
}

// MaxLength returns the longest recording at targetRate, in samples
func (m *Manifest) MaxLength(targetRate int) int {
	longest := 0
	for i, n := range m.Lengths {
		scaled := n
		if sr := m.SampleRates[i]; sr > 0 && sr != targetRate {
			scaled = (n*targetRate + sr - 1) / sr
		}
		if scaled > longest {
			longest = scaled
		}
	}
	return longest
}

// ParseDirectory walks root recursively for .wav files. Files whose name has
// no label or that fail to decode are logged and skipped. Labels are
// numbered in sorted order.
func ParseDirectory(fs afero.Fs, root string, logger *zap.Logger) (*Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := fs.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "data directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("data path %s is not a directory", root)
	}

	type entry struct {
		path   string
		label  string
		length int
		rate   int
	}
	var entries []entry

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil
		}
		label, err := ExtractLabel(path)
		if err != nil {
			logger.Info("skipping file", zap.String("file", fi.Name()), zap.Error(err))
			return nil
		}
		clip, err := LoadWAV(fs, path)
		if err != nil {
			logger.Info("skipping file", zap.String("file", fi.Name()), zap.Error(err))
			return nil
		}
		entries = append(entries, entry{path: path, label: label, length: len(clip.Samples), rate: clip.SampleRate})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}

	seen := make(map[string]bool)
	m := &Manifest{}
	for _, e := range entries {
		if !seen[e.label] {
			seen[e.label] = true
			m.Classes = append(m.Classes, e.label)
		}
	}
	sort.Strings(m.Classes)
	ids := m.LabelMap()

	for _, e := range entries {
		m.Paths = append(m.Paths, e.path)
		m.Labels = append(m.Labels, ids[e.label])
		m.Lengths = append(m.Lengths, e.length)
		m.SampleRates = append(m.SampleRates, e.rate)
	}

	logger.Info("parsed data directory",
		zap.String("root", root),
		zap.Int("files", m.Len()),
		zap.Int("classes", len(m.Classes)))
	return m, nil
}
