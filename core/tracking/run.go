package tracking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
	"pdm-pipeline/training/forest"
)

// Run is the session handle of one active run; every logging call goes through it
type Run struct {
	client *Client

	ID           string
	ExperimentID string
	Name         string
	ArtifactURI  string

	mu     sync.Mutex
	ended  bool
	status models.RunStatus
}

// active fails when the run is nil or already ended
func (r *Run) active() error {
	if r == nil {
		return apperr.State("no active run")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return apperr.State("run %s already ended with status %s", r.ID, r.status)
	}
	return nil
}

// Ended reports whether End has been called
func (r *Run) Ended() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// LogParam records one parameter, formatting value with fmt
func (r *Run) LogParam(ctx context.Context, key string, value interface{}) error {
	if err := r.active(); err != nil {
		return err
	}
	if err := r.client.logParam(ctx, r.ID, key, fmt.Sprint(value)); err != nil {
		return fmt.Errorf("failed to log param %s: %w", key, err)
	}
	return nil
}

// LogParams records several parameters in one batch
func (r *Run) LogParams(ctx context.Context, params map[string]interface{}) error {
	if err := r.active(); err != nil {
		return err
	}
	req := LogBatchRequest{RunID: r.ID}
	for _, k := range sortedKeys(params) {
		req.Params = append(req.Params, KeyValue{Key: k, Value: fmt.Sprint(params[k])})
	}
	if err := r.client.logBatch(ctx, req); err != nil {
		return fmt.Errorf("failed to log params: %w", err)
	}
	return nil
}

// LogMetric records one metric value
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if err := r.active(); err != nil {
		return err
	}
	if err := r.client.logMetric(ctx, r.ID, key, value); err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// LogMetrics records several metrics in one batch
func (r *Run) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	if err := r.active(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	req := LogBatchRequest{RunID: r.ID}
	for _, k := range sortedKeys(metrics) {
		req.Metrics = append(req.Metrics, MetricJSON{Key: k, Value: metrics[k], Timestamp: now})
	}
	if err := r.client.logBatch(ctx, req); err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}
	return nil
}

// SetTag sets a run tag
func (r *Run) SetTag(ctx context.Context, key, value string) error {
	if err := r.active(); err != nil {
		return err
	}
	req := LogBatchRequest{RunID: r.ID, Tags: []KeyValue{{Key: key, Value: value}}}
	if err := r.client.logBatch(ctx, req); err != nil {
		return fmt.Errorf("failed to set tag %s: %w", key, err)
	}
	return nil
}

// artifactRoot is the store path of the run's artifact directory
func (r *Run) artifactRoot() (string, error) {
	return ArtifactPath(r.ArtifactURI)
}

// LogArtifact uploads a local file into artifactDir ("" for the run root)
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactDir string) error {
	if err := r.active(); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return apperr.IO(err, "failed to open artifact %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.IO(err, "failed to stat artifact %s", localPath)
	}

	return r.upload(ctx, joinArtifact(artifactDir, filepath.Base(localPath)), f, info.Size())
}

// LogArtifactBytes uploads content to artifactPath relative to the run root
func (r *Run) LogArtifactBytes(ctx context.Context, artifactPath string, data []byte) error {
	if err := r.active(); err != nil {
		return err
	}
	return r.upload(ctx, artifactPath, bytes.NewReader(data), int64(len(data)))
}

func (r *Run) upload(ctx context.Context, artifactPath string, body io.Reader, size int64) error {
	root, err := r.artifactRoot()
	if err != nil {
		return err
	}
	if err := r.client.UploadArtifact(ctx, root+"/"+artifactPath, body, size); err != nil {
		return fmt.Errorf("failed to log artifact %s: %w", artifactPath, err)
	}
	return nil
}

// LogModel stores a fitted forest under artifactPath and returns its runs:/ reference
func (r *Run) LogModel(ctx context.Context, model *forest.Model, artifactPath string) (string, error) {
	if err := r.active(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := model.Save(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize model: %w", err)
	}
	if err := r.LogArtifactBytes(ctx, joinArtifact(artifactPath, forest.ModelFileName), buf.Bytes()); err != nil {
		return "", err
	}
	return r.ModelURI(artifactPath), nil
}

// ModelURI is the runs:/ reference of an artifact of this run
func (r *Run) ModelURI(artifactPath string) string {
	return RunsScheme + r.ID + "/" + artifactPath
}

// End closes the run with the given terminal status; the handle is unusable afterwards
func (r *Run) End(ctx context.Context, status models.RunStatus) error {
	if err := r.active(); err != nil {
		return err
	}
	if !status.Terminal() {
		return apperr.Invalid("run cannot end with status %s", status)
	}
	if err := r.client.updateRun(ctx, r.ID, status); err != nil {
		return fmt.Errorf("failed to end run %s: %w", r.ID, err)
	}

	r.mu.Lock()
	r.ended = true
	r.status = status
	r.mu.Unlock()
	return nil
}

func joinArtifact(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
