package runctx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextPaths(t *testing.T) {
	rc := New(nil, afero.NewMemMapFs(), "runs/exp1")
	assert.Equal(t, "exp1", rc.RunID)
	assert.NotEmpty(t, rc.RunUUID)
	assert.Equal(t, "runs/exp1/fold_1/models/best.pt", rc.Path("fold_1", "models", "best.pt"))

	sub := rc.Sub("fold_2")
	assert.Equal(t, "runs/exp1/fold_2", sub.Root)
	assert.Equal(t, rc.RunUUID, sub.RunUUID)
	assert.Equal(t, "runs/exp1", rc.Root, "Sub must not modify the parent")
}

func TestWriteJSON(t *testing.T) {
	rc := NewNop()
	require.NoError(t, rc.WriteJSON("config.json", map[string]int{"k_folds": 5}))

	data, err := rc.ReadFile("config.json")
	require.NoError(t, err)
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 5, decoded["k_folds"])

	entries, err := afero.ReadDir(rc.Fs, rc.Root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestGenerateRunID(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "20240309_140507", GenerateRunID("", now))
	assert.Equal(t, "my-job", GenerateRunID("my-job", now))
}

func TestNewLoggerSplitsOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	fs := afero.NewMemMapFs()

	logger, closeFn, err := NewLogger(LoggerConfig{
		Level:    "info",
		Stdout:   &stdout,
		Stderr:   &stderr,
		FilePath: "run.log",
		Fs:       fs,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("epoch complete")
	logger.Error("fold failed")
	require.NoError(t, closeFn())

	assert.Contains(t, stdout.String(), "epoch complete")
	assert.NotContains(t, stdout.String(), "fold failed")
	assert.Contains(t, stderr.String(), "fold failed")
	assert.NotContains(t, stdout.String()+stderr.String(), "hidden")

	data, err := afero.ReadFile(fs, "run.log")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"msg":"epoch complete"`)

	_, _, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
