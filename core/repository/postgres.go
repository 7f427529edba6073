package repository

import (
	"context"
	"time"

	"pdm-pipeline/core/models"
)

// PostgresStore implements Store on top of the PostgreSQL repositories
type PostgresStore struct {
	db          *DB
	experiments *ExperimentRepository
	runs        *RunRepository
	events      *EventRepository
	registry    *RegistryRepository
}

// NewPostgresStore wires the repositories around one connection pool
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		experiments: NewExperimentRepository(db),
		runs:        NewRunRepository(db),
		events:      NewEventRepository(db),
		registry:    NewRegistryRepository(db),
	}
}

// CreateExperiment creates a named experiment
func (s *PostgresStore) CreateExperiment(ctx context.Context, name, artifactLocation string) (*models.Experiment, error) {
	return s.experiments.CreateExperiment(ctx, name, artifactLocation)
}

// GetExperiment retrieves an experiment by ID
func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	return s.experiments.GetExperiment(ctx, id)
}

// GetExperimentByName retrieves an experiment by name
func (s *PostgresStore) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	return s.experiments.GetExperimentByName(ctx, name)
}

// CreateRun starts a run inside an existing experiment
func (s *PostgresStore) CreateRun(ctx context.Context, experimentID, name string, startTime time.Time, tags map[string]string) (*models.Run, error) {
	exp, err := s.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return s.runs.CreateRun(ctx, exp, name, startTime, tags)
}

// GetRun retrieves a run
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return s.runs.GetRun(ctx, id)
}

// UpdateRunStatus changes the run status
func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, endTime *time.Time, reason string) (*models.Run, error) {
	return s.runs.UpdateRunStatus(ctx, id, status, endTime, reason)
}

// LogParam records a parameter
func (s *PostgresStore) LogParam(ctx context.Context, runID string, param models.Param) error {
	return s.runs.LogParam(ctx, runID, param)
}

// LogMetric appends a metric value
func (s *PostgresStore) LogMetric(ctx context.Context, runID string, metric models.Metric) error {
	return s.runs.LogMetric(ctx, runID, metric)
}

// SetTag sets a run tag
func (s *PostgresStore) SetTag(ctx context.Context, runID, key, value string) error {
	return s.runs.SetTag(ctx, runID, key, value)
}

// GetRunEvents returns status transitions of a run, newest first
func (s *PostgresStore) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.events.GetRunEvents(ctx, runID, limit)
}

// CreateRegisteredModel creates a registered model
func (s *PostgresStore) CreateRegisteredModel(ctx context.Context, name, description string) (*models.RegisteredModel, error) {
	return s.registry.CreateRegisteredModel(ctx, name, description)
}

// GetRegisteredModel retrieves a registered model
func (s *PostgresStore) GetRegisteredModel(ctx context.Context, name string) (*models.RegisteredModel, error) {
	return s.registry.GetRegisteredModel(ctx, name)
}

// CreateModelVersion registers a new version
func (s *PostgresStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	return s.registry.CreateModelVersion(ctx, name, source, runID)
}

// GetModelVersion retrieves one version
func (s *PostgresStore) GetModelVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error) {
	return s.registry.GetModelVersion(ctx, name, version)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
