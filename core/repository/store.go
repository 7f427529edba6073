package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdm-pipeline/core/models"
)

// Store persists experiments, runs and the model registry
type Store interface {
	CreateExperiment(ctx context.Context, name, artifactLocation string) (*models.Experiment, error)
	GetExperiment(ctx context.Context, id string) (*models.Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error)

	CreateRun(ctx context.Context, experimentID, name string, startTime time.Time, tags map[string]string) (*models.Run, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, endTime *time.Time, reason string) (*models.Run, error)
	LogParam(ctx context.Context, runID string, param models.Param) error
	LogMetric(ctx context.Context, runID string, metric models.Metric) error
	SetTag(ctx context.Context, runID, key, value string) error
	GetRunEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error)

	CreateRegisteredModel(ctx context.Context, name, description string) (*models.RegisteredModel, error)
	GetRegisteredModel(ctx context.Context, name string) (*models.RegisteredModel, error)
	CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error)
	GetModelVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error)

	Close() error
}

// Event reasons recorded on run status changes
const (
	ReasonRunCreated = "run_created"
	ReasonRunUpdated = "run_updated"
)

// NewRunID returns a 32 character hex run identifier
func NewRunID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// RunArtifactURI is the artifact root of a run inside its experiment location
func RunArtifactURI(experimentLocation, runID string) string {
	return fmt.Sprintf("%s/%s/artifacts", strings.TrimSuffix(experimentLocation, "/"), runID)
}

// ExperimentArtifactLocation is the default artifact location for a new experiment
func ExperimentArtifactLocation(experimentID string) string {
	return "mlflow-artifacts:/" + experimentID
}
