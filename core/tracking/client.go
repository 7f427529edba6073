package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
	"pdm-pipeline/training/forest"
)

// Model reference schemes
const (
	RunsScheme   = "runs:/"
	ModelsScheme = "models:/"
)

// Client talks to a tracking server over its REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the tracking server at baseURL
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// BaseURL returns the tracking server address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request and decodes a JSON response into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperr.External(err, "failed to build request for %s", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.External(err, "tracking server unreachable at %s", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.External(err, "invalid response from %s", path)
	}
	return nil
}

// decodeError maps an API error body to an error kind
func decodeError(resp *http.Response, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorCode == "" {
		return apperr.External(nil, "%s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	kind := apperr.ErrExternal
	switch body.ErrorCode {
	case ErrorCodeNotFound:
		kind = apperr.ErrNotFound
	case ErrorCodeAlreadyExists:
		kind = apperr.ErrAlreadyExists
	case ErrorCodeInvalid:
		kind = apperr.ErrInvalid
	case ErrorCodeInvalidState:
		kind = apperr.ErrState
	}
	return &apperr.Error{Code: body.ErrorCode, Message: body.Message, Err: kind}
}

// GetOrCreateExperiment returns the ID of the named experiment, creating it if needed
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	var got GetExperimentResponse
	err := c.do(ctx, http.MethodGet, PathExperimentsGetByName, url.Values{"experiment_name": {name}}, nil, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	if !apperr.IsNotFound(err) {
		return "", err
	}

	var created CreateExperimentResponse
	err = c.do(ctx, http.MethodPost, PathExperimentsCreate, nil, CreateExperimentRequest{Name: name}, &created)
	if apperr.IsAlreadyExists(err) {
		// Created concurrently by another stage
		return c.GetOrCreateExperiment(ctx, name)
	}
	if err != nil {
		return "", err
	}

	c.logger.Info("experiment created", zap.String("name", name), zap.String("experiment_id", created.ExperimentID))
	return created.ExperimentID, nil
}

// StartRun creates a RUNNING run and returns its session handle
func (c *Client) StartRun(ctx context.Context, experimentID, runName string) (*Run, error) {
	var resp RunResponse
	req := CreateRunRequest{
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    time.Now().UnixMilli(),
	}
	if err := c.do(ctx, http.MethodPost, PathRunsCreate, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to start run %q: %w", runName, err)
	}

	info := resp.Run.Info
	c.logger.Info("run started",
		zap.String("run_id", info.RunID),
		zap.String("run_name", runName),
		zap.String("experiment_id", info.ExperimentID),
	)
	return &Run{
		client:       c,
		ID:           info.RunID,
		ExperimentID: info.ExperimentID,
		Name:         info.RunName,
		ArtifactURI:  info.ArtifactURI,
	}, nil
}

// GetRun fetches a run with its logged data
func (c *Client) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var resp RunResponse
	if err := c.do(ctx, http.MethodGet, PathRunsGet, url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, err
	}
	return RunFromJSON(resp.Run), nil
}

func (c *Client) updateRun(ctx context.Context, runID string, status models.RunStatus) error {
	req := UpdateRunRequest{RunID: runID, Status: string(status), EndTime: time.Now().UnixMilli()}
	return c.do(ctx, http.MethodPost, PathRunsUpdate, nil, req, nil)
}

func (c *Client) logParam(ctx context.Context, runID, key, value string) error {
	return c.do(ctx, http.MethodPost, PathRunsLogParameter, nil, LogParamRequest{RunID: runID, Key: key, Value: value}, nil)
}

func (c *Client) logMetric(ctx context.Context, runID, key string, value float64) error {
	req := LogMetricRequest{RunID: runID, Key: key, Value: value, Timestamp: time.Now().UnixMilli()}
	return c.do(ctx, http.MethodPost, PathRunsLogMetric, nil, req, nil)
}

func (c *Client) logBatch(ctx context.Context, req LogBatchRequest) error {
	return c.do(ctx, http.MethodPost, PathRunsLogBatch, nil, req, nil)
}

// ArtifactPath converts an artifact URI served by the tracking server to a store path
func ArtifactPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, ArtifactScheme) {
		return "", apperr.Invalid("unsupported artifact location %q", uri)
	}
	return strings.Trim(strings.TrimPrefix(uri, ArtifactScheme), "/"), nil
}

// UploadArtifact stores content at the given artifact store path
func (c *Client) UploadArtifact(ctx context.Context, path string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.artifactURL(path), r)
	if err != nil {
		return apperr.External(err, "failed to build upload for %s", path)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.External(err, "failed to upload artifact %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, path)
	}
	c.logger.Debug("artifact uploaded", zap.String("path", path), zap.Int64("bytes", size))
	return nil
}

// DownloadArtifact opens the artifact at the given store path
func (c *Client) DownloadArtifact(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.artifactURL(path), nil)
	if err != nil {
		return nil, apperr.External(err, "failed to build download for %s", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External(err, "failed to download artifact %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp, path)
	}
	return resp.Body, nil
}

// ListArtifacts lists the direct children of an artifact store directory
func (c *Client) ListArtifacts(ctx context.Context, path string) ([]models.ArtifactInfo, error) {
	var resp ListArtifactsResponse
	if err := c.do(ctx, http.MethodGet, PathArtifacts, url.Values{"path": {path}}, nil, &resp); err != nil {
		return nil, err
	}

	items := make([]models.ArtifactInfo, len(resp.Files))
	for i, f := range resp.Files {
		items[i] = models.ArtifactInfo{Path: f.Path, IsDir: f.IsDir, FileSize: f.FileSize}
	}
	return items, nil
}

func (c *Client) artifactURL(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + PathArtifacts + "/" + strings.Join(parts, "/")
}

// RegisterModel creates the registered model if needed and adds a new version for source
func (c *Client) RegisterModel(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	err := c.do(ctx, http.MethodPost, PathRegisteredModels, nil, CreateRegisteredModelRequest{Name: name}, nil)
	if err != nil && !apperr.IsAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create registered model %q: %w", name, err)
	}

	var resp ModelVersionResponse
	req := CreateModelVersionRequest{Name: name, Source: source, RunID: runID}
	if err := c.do(ctx, http.MethodPost, PathModelVersionsCreate, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create version of %q: %w", name, err)
	}

	mv, err := ModelVersionFromJSON(resp.ModelVersion)
	if err != nil {
		return nil, err
	}
	c.logger.Info("model registered",
		zap.String("name", mv.Name),
		zap.Int("version", mv.Version),
		zap.String("source", mv.Source),
	)
	return mv, nil
}

// GetModelVersion fetches one version of a registered model
func (c *Client) GetModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	var resp ModelVersionResponse
	query := url.Values{"name": {name}, "version": {version}}
	if err := c.do(ctx, http.MethodGet, PathModelVersionsGet, query, nil, &resp); err != nil {
		return nil, err
	}
	return ModelVersionFromJSON(resp.ModelVersion)
}

// ModelLocation says where a resolved model reference lives
type ModelLocation struct {
	// ArtifactPath is set for models stored on the tracking server
	ArtifactPath string
	// LocalPath is set for models on the local filesystem
	LocalPath string
}

// ResolveModelURI resolves runs:/, models:/ and local path references
func (c *Client) ResolveModelURI(ctx context.Context, uri string) (ModelLocation, error) {
	switch {
	case strings.HasPrefix(uri, RunsScheme):
		rest := strings.Trim(strings.TrimPrefix(uri, RunsScheme), "/")
		runID, artifact, _ := strings.Cut(rest, "/")
		if runID == "" {
			return ModelLocation{}, apperr.Invalid("model uri %q has no run id", uri)
		}
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return ModelLocation{}, err
		}
		root, err := ArtifactPath(run.ArtifactURI)
		if err != nil {
			return ModelLocation{}, err
		}
		if artifact == "" {
			return ModelLocation{ArtifactPath: root}, nil
		}
		return ModelLocation{ArtifactPath: root + "/" + artifact}, nil

	case strings.HasPrefix(uri, ModelsScheme):
		rest := strings.Trim(strings.TrimPrefix(uri, ModelsScheme), "/")
		name, version, ok := strings.Cut(rest, "/")
		if !ok || name == "" || version == "" {
			return ModelLocation{}, apperr.Invalid("model uri %q must be models:/<name>/<version>", uri)
		}
		mv, err := c.GetModelVersion(ctx, name, version)
		if err != nil {
			return ModelLocation{}, err
		}
		if strings.HasPrefix(mv.Source, ModelsScheme) {
			return ModelLocation{}, apperr.Invalid("model version %s/%s points at another registered model", name, version)
		}
		if strings.HasPrefix(mv.Source, ArtifactScheme) {
			p, err := ArtifactPath(mv.Source)
			return ModelLocation{ArtifactPath: p}, err
		}
		return c.ResolveModelURI(ctx, mv.Source)

	default:
		if _, err := os.Stat(uri); err != nil {
			return ModelLocation{}, apperr.NotFound("model", uri)
		}
		return ModelLocation{LocalPath: uri}, nil
	}
}

// LoadModel resolves a model reference and reads the fitted forest
func (c *Client) LoadModel(ctx context.Context, uri string) (*forest.Model, error) {
	loc, err := c.ResolveModelURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %s: %w", uri, err)
	}

	if loc.LocalPath != "" {
		path := loc.LocalPath
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, forest.ModelFileName)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, apperr.NotFound("model", path)
		}
		defer f.Close()
		return forest.Load(f)
	}

	p := loc.ArtifactPath
	if !strings.HasSuffix(p, ".json") {
		p += "/" + forest.ModelFileName
	}
	rc, err := c.DownloadArtifact(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to download model %s: %w", uri, err)
	}
	defer rc.Close()

	model, err := forest.Load(rc)
	if err != nil {
		return nil, err
	}
	c.logger.Info("model loaded", zap.String("uri", uri), zap.Int("trees", len(model.Trees)))
	return model, nil
}

// LatestMetrics returns the most recent value of each metric key
func LatestMetrics(run *models.Run) map[string]float64 {
	latest := make(map[string]models.Metric)
	for _, m := range run.Metrics {
		if cur, ok := latest[m.Key]; !ok || m.Timestamp > cur.Timestamp ||
			(m.Timestamp == cur.Timestamp && m.Step >= cur.Step) {
			latest[m.Key] = m
		}
	}
	out := make(map[string]float64, len(latest))
	for k, m := range latest {
		out[k] = m.Value
	}
	return out
}

// ParamMap returns the logged params keyed by name
func ParamMap(run *models.Run) map[string]string {
	out := make(map[string]string, len(run.Params))
	for _, p := range run.Params {
		out[p.Key] = p.Value
	}
	return out
}

func parseVersion(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.External(err, "model %s has invalid version %q", name, v)
	}
	return n, nil
}
