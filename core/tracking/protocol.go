package tracking

import (
	"sort"
	"strconv"
	"time"

	"pdm-pipeline/core/models"
)

// REST paths of the tracking and registry API
const (
	PathExperimentsCreate    = "/api/2.0/mlflow/experiments/create"
	PathExperimentsGet       = "/api/2.0/mlflow/experiments/get"
	PathExperimentsGetByName = "/api/2.0/mlflow/experiments/get-by-name"
	PathRunsCreate           = "/api/2.0/mlflow/runs/create"
	PathRunsUpdate           = "/api/2.0/mlflow/runs/update"
	PathRunsGet              = "/api/2.0/mlflow/runs/get"
	PathRunsLogParameter     = "/api/2.0/mlflow/runs/log-parameter"
	PathRunsLogMetric        = "/api/2.0/mlflow/runs/log-metric"
	PathRunsLogBatch         = "/api/2.0/mlflow/runs/log-batch"
	PathRunsSetTag           = "/api/2.0/mlflow/runs/set-tag"
	PathRunsEvents           = "/api/2.0/mlflow/runs/events"
	PathRegisteredModels     = "/api/2.0/mlflow/registered-models/create"
	PathRegisteredModelsGet  = "/api/2.0/mlflow/registered-models/get"
	PathModelVersionsCreate  = "/api/2.0/mlflow/model-versions/create"
	PathModelVersionsGet     = "/api/2.0/mlflow/model-versions/get"
	PathArtifacts            = "/api/2.0/mlflow-artifacts/artifacts"
)

// Error codes carried in API error bodies
const (
	ErrorCodeNotFound      = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeInvalid       = "INVALID_PARAMETER_VALUE"
	ErrorCodeInvalidState  = "INVALID_STATE"
	ErrorCodeInternal      = "INTERNAL_ERROR"
)

// ArtifactScheme prefixes artifact URIs served by the tracking server
const ArtifactScheme = "mlflow-artifacts:/"

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// ExperimentJSON is the wire form of an experiment
type ExperimentJSON struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
	CreationTime     int64  `json:"creation_time"`
}

// CreateExperimentRequest is the body of experiments/create
type CreateExperimentRequest struct {
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
}

// CreateExperimentResponse is returned by experiments/create
type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

// GetExperimentResponse is returned by experiments/get and get-by-name
type GetExperimentResponse struct {
	Experiment ExperimentJSON `json:"experiment"`
}

// KeyValue is a param or tag on the wire
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MetricJSON is a metric on the wire
type MetricJSON struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// RunInfoJSON carries run identity and status
type RunInfoJSON struct {
	RunID          string `json:"run_id"`
	RunUUID        string `json:"run_uuid"`
	ExperimentID   string `json:"experiment_id"`
	RunName        string `json:"run_name"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time,omitempty"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
}

// RunDataJSON carries what was logged to a run
type RunDataJSON struct {
	Metrics []MetricJSON `json:"metrics,omitempty"`
	Params  []KeyValue   `json:"params,omitempty"`
	Tags    []KeyValue   `json:"tags,omitempty"`
}

// RunJSON is the wire form of a run
type RunJSON struct {
	Info RunInfoJSON `json:"info"`
	Data RunDataJSON `json:"data"`
}

// CreateRunRequest is the body of runs/create
type CreateRunRequest struct {
	ExperimentID string     `json:"experiment_id"`
	RunName      string     `json:"run_name,omitempty"`
	StartTime    int64      `json:"start_time,omitempty"`
	Tags         []KeyValue `json:"tags,omitempty"`
}

// RunResponse is returned by runs/create and runs/get
type RunResponse struct {
	Run RunJSON `json:"run"`
}

// UpdateRunRequest is the body of runs/update
type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time,omitempty"`
}

// UpdateRunResponse is returned by runs/update
type UpdateRunResponse struct {
	RunInfo RunInfoJSON `json:"run_info"`
}

// LogParamRequest is the body of runs/log-parameter
type LogParamRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LogMetricRequest is the body of runs/log-metric
type LogMetricRequest struct {
	RunID     string  `json:"run_id"`
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// LogBatchRequest is the body of runs/log-batch
type LogBatchRequest struct {
	RunID   string       `json:"run_id"`
	Metrics []MetricJSON `json:"metrics,omitempty"`
	Params  []KeyValue   `json:"params,omitempty"`
	Tags    []KeyValue   `json:"tags,omitempty"`
}

// SetTagRequest is the body of runs/set-tag
type SetTagRequest struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunEventJSON is one status transition of a run
type RunEventJSON struct {
	ID         int64  `json:"id"`
	At         int64  `json:"at"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason"`
}

// RunEventsResponse is returned by runs/events
type RunEventsResponse struct {
	Events []RunEventJSON `json:"events"`
}

// FileInfoJSON describes one artifact
type FileInfoJSON struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size,omitempty"`
}

// ListArtifactsResponse is returned by an artifact listing
type ListArtifactsResponse struct {
	Files []FileInfoJSON `json:"files"`
}

// RegisteredModelJSON is the wire form of a registered model
type RegisteredModelJSON struct {
	Name                 string `json:"name"`
	Description          string `json:"description,omitempty"`
	CreationTimestamp    int64  `json:"creation_timestamp"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp"`
}

// CreateRegisteredModelRequest is the body of registered-models/create
type CreateRegisteredModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RegisteredModelResponse is returned by registered-models/create and get
type RegisteredModelResponse struct {
	RegisteredModel RegisteredModelJSON `json:"registered_model"`
}

// ModelVersionJSON is the wire form of a model version; versions are strings on the wire
type ModelVersionJSON struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Source            string `json:"source"`
	RunID             string `json:"run_id,omitempty"`
	Status            string `json:"status"`
	CreationTimestamp int64  `json:"creation_timestamp"`
}

// CreateModelVersionRequest is the body of model-versions/create
type CreateModelVersionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
}

// ModelVersionResponse is returned by model-versions/create and get
type ModelVersionResponse struct {
	ModelVersion ModelVersionJSON `json:"model_version"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ExperimentToJSON converts a stored experiment
func ExperimentToJSON(e *models.Experiment) ExperimentJSON {
	return ExperimentJSON{
		ExperimentID:     e.ID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   e.LifecycleStage,
		CreationTime:     millis(e.CreatedAt),
	}
}

// RunInfoToJSON converts the identity part of a stored run
func RunInfoToJSON(r *models.Run) RunInfoJSON {
	info := RunInfoJSON{
		RunID:          r.ID,
		RunUUID:        r.ID,
		ExperimentID:   r.ExperimentID,
		RunName:        r.Name,
		Status:         string(r.Status),
		StartTime:      millis(r.StartTime),
		ArtifactURI:    r.ArtifactURI,
		LifecycleStage: "active",
	}
	if r.EndTime != nil {
		info.EndTime = millis(*r.EndTime)
	}
	return info
}

// RunToJSON converts a stored run with its data
func RunToJSON(r *models.Run) RunJSON {
	out := RunJSON{Info: RunInfoToJSON(r)}
	for _, p := range r.Params {
		out.Data.Params = append(out.Data.Params, KeyValue{Key: p.Key, Value: p.Value})
	}
	for _, m := range r.Metrics {
		out.Data.Metrics = append(out.Data.Metrics, MetricJSON{Key: m.Key, Value: m.Value, Timestamp: m.Timestamp, Step: m.Step})
	}
	for k, v := range r.Tags {
		out.Data.Tags = append(out.Data.Tags, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out.Data.Tags, func(i, j int) bool { return out.Data.Tags[i].Key < out.Data.Tags[j].Key })
	return out
}

// RegisteredModelToJSON converts a stored registered model
func RegisteredModelToJSON(m *models.RegisteredModel) RegisteredModelJSON {
	return RegisteredModelJSON{
		Name:                 m.Name,
		Description:          m.Description,
		CreationTimestamp:    millis(m.CreatedAt),
		LastUpdatedTimestamp: millis(m.UpdatedAt),
	}
}

// ModelVersionToJSON converts a stored model version
func ModelVersionToJSON(v *models.ModelVersion) ModelVersionJSON {
	return ModelVersionJSON{
		Name:              v.Name,
		Version:           strconv.Itoa(v.Version),
		Source:            v.Source,
		RunID:             v.RunID,
		Status:            v.Status,
		CreationTimestamp: millis(v.CreatedAt),
	}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// RunFromJSON converts a wire run back to the stored form
func RunFromJSON(r RunJSON) *models.Run {
	run := &models.Run{
		ID:           r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		Name:         r.Info.RunName,
		Status:       models.RunStatus(r.Info.Status),
		StartTime:    fromMillis(r.Info.StartTime),
		ArtifactURI:  r.Info.ArtifactURI,
		Tags:         make(map[string]string, len(r.Data.Tags)),
	}
	if r.Info.EndTime != 0 {
		t := fromMillis(r.Info.EndTime)
		run.EndTime = &t
	}
	for _, p := range r.Data.Params {
		run.Params = append(run.Params, models.Param{Key: p.Key, Value: p.Value})
	}
	for _, m := range r.Data.Metrics {
		run.Metrics = append(run.Metrics, models.Metric{Key: m.Key, Value: m.Value, Timestamp: m.Timestamp, Step: m.Step})
	}
	for _, t := range r.Data.Tags {
		run.Tags[t.Key] = t.Value
	}
	return run
}

// ModelVersionFromJSON converts a wire model version back to the stored form
func ModelVersionFromJSON(v ModelVersionJSON) (*models.ModelVersion, error) {
	version, err := parseVersion(v.Name, v.Version)
	if err != nil {
		return nil, err
	}
	return &models.ModelVersion{
		Name:      v.Name,
		Version:   version,
		Source:    v.Source,
		RunID:     v.RunID,
		Status:    v.Status,
		CreatedAt: fromMillis(v.CreationTimestamp),
	}, nil
}
