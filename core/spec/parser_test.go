package spec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdm-pipeline/core/apperr"
)

func TestDefault(t *testing.T) {
	p := Default()

	assert.Equal(t, 5, p.Preprocess.WindowSize)
	assert.Equal(t, 30, p.Preprocess.Horizon)
	assert.Equal(t, "data/processed/train_processed.csv", p.Train.DataPath)
	assert.Equal(t, 100, p.Train.NEstimators)
	assert.Equal(t, 5, p.Train.MaxDepth)
	assert.Equal(t, 0.2, p.Train.TestSize)
	assert.Equal(t, int64(42), p.Train.Seed)
	assert.Equal(t, "data/processed/test_processed.csv", p.Evaluate.TestData)
	assert.Equal(t, DefaultModelName, p.Deploy.ModelName)
	assert.Equal(t, "1", p.Deploy.ModelVersion)
	assert.Equal(t, 5001, p.Deploy.Port)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(`
preprocess:
  window_size: 10
  rul_file: data/raw/RUL_FD001.txt
train:
  n_estimators: 50
  max_depth: 8
deploy:
  port: 6000
  max_wait: 2m
  settle_delay: 1s
`)
	require.NoError(t, err)

	assert.Equal(t, 10, p.Preprocess.WindowSize)
	assert.Equal(t, "data/raw/RUL_FD001.txt", p.Preprocess.RULFile)
	assert.Equal(t, 50, p.Train.NEstimators)
	assert.Equal(t, 8, p.Train.MaxDepth)
	assert.Equal(t, 6000, p.Deploy.Port)

	timings, err := p.Deploy.Timings()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, timings.MaxWait)
	assert.Equal(t, time.Second, timings.SettleDelay)
	assert.Equal(t, 500*time.Millisecond, timings.InitialInterval)
}

func TestParseParamsErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		kind error
	}{
		{"malformed", "train: [", apperr.ErrParse},
		{"negative window", "preprocess:\n  window_size: -1\n", apperr.ErrInvalid},
		{"bad test size", "train:\n  test_size: 1.5\n", apperr.ErrInvalid},
		{"bad port", "deploy:\n  port: 70000\n", apperr.ErrInvalid},
		{"bad duration", "deploy:\n  max_wait: soon\n", apperr.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParams(tt.yaml)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadParams(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)

	path := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  max_depth: 3\n"), 0o644))
	p, err = LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Train.MaxDepth)
}
