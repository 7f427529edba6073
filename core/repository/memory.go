package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// MemoryStore keeps everything in process memory. It is used by tests and
// by the tracking server when no database is configured.
type MemoryStore struct {
	mu sync.RWMutex

	nextExperimentID int
	experiments      map[string]*models.Experiment
	experimentNames  map[string]string

	runs        map[string]*models.Run
	events      map[string][]models.RunEvent
	nextEventID int64

	registered map[string]*models.RegisteredModel
	versions   map[string][]*models.ModelVersion
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments:     make(map[string]*models.Experiment),
		experimentNames: make(map[string]string),
		runs:            make(map[string]*models.Run),
		events:          make(map[string][]models.RunEvent),
		registered:      make(map[string]*models.RegisteredModel),
		versions:        make(map[string][]*models.ModelVersion),
	}
}

// CreateExperiment creates a named experiment
func (s *MemoryStore) CreateExperiment(ctx context.Context, name, artifactLocation string) (*models.Experiment, error) {
	if name == "" {
		return nil, apperr.Invalid("experiment name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.experimentNames[name]; ok {
		return nil, apperr.AlreadyExists("experiment", name)
	}

	id := strconv.Itoa(s.nextExperimentID)
	s.nextExperimentID++
	if artifactLocation == "" {
		artifactLocation = ExperimentArtifactLocation(id)
	}

	exp := &models.Experiment{
		ID:               id,
		Name:             name,
		ArtifactLocation: artifactLocation,
		LifecycleStage:   "active",
		CreatedAt:        time.Now().UTC(),
	}
	s.experiments[id] = exp
	s.experimentNames[name] = id

	copied := *exp
	return &copied, nil
}

// GetExperiment retrieves an experiment by ID
func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, apperr.NotFound("experiment", id)
	}
	copied := *exp
	return &copied, nil
}

// GetExperimentByName retrieves an experiment by name
func (s *MemoryStore) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	s.mu.RLock()
	id, ok := s.experimentNames[name]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("experiment", name)
	}
	return s.GetExperiment(ctx, id)
}

// CreateRun starts a run in the RUNNING state and records the creation event
func (s *MemoryStore) CreateRun(ctx context.Context, experimentID, name string, startTime time.Time, tags map[string]string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[experimentID]
	if !ok {
		return nil, apperr.NotFound("experiment", experimentID)
	}

	id := NewRunID()
	run := &models.Run{
		ID:           id,
		ExperimentID: experimentID,
		Name:         name,
		Status:       models.RunStatusRunning,
		StartTime:    startTime.UTC(),
		ArtifactURI:  RunArtifactURI(exp.ArtifactLocation, id),
		Tags:         make(map[string]string),
	}
	for k, v := range tags {
		run.Tags[k] = v
	}
	s.runs[id] = run
	s.appendEvent(id, nil, models.RunStatusRunning, ReasonRunCreated)

	return cloneRun(run), nil
}

// GetRun retrieves a run with its params, metrics and tags
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, apperr.NotFound("run", id)
	}
	return cloneRun(run), nil
}

// UpdateRunStatus changes the run status and records the transition
func (s *MemoryStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, endTime *time.Time, reason string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, apperr.NotFound("run", id)
	}

	from := run.Status
	run.Status = status
	if endTime != nil {
		t := endTime.UTC()
		run.EndTime = &t
	}
	if from != status {
		if reason == "" {
			reason = ReasonRunUpdated
		}
		s.appendEvent(id, &from, status, reason)
	}

	return cloneRun(run), nil
}

// LogParam records a parameter; re-logging the same key with a different value fails
func (s *MemoryStore) LogParam(ctx context.Context, runID string, param models.Param) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return apperr.NotFound("run", runID)
	}
	for _, p := range run.Params {
		if p.Key == param.Key {
			if p.Value != param.Value {
				return apperr.Invalid("param %q already logged with value %q, cannot change to %q", p.Key, p.Value, param.Value)
			}
			return nil
		}
	}
	run.Params = append(run.Params, param)
	return nil
}

// LogMetric appends a metric value
func (s *MemoryStore) LogMetric(ctx context.Context, runID string, metric models.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return apperr.NotFound("run", runID)
	}
	run.Metrics = append(run.Metrics, metric)
	return nil
}

// SetTag sets or replaces a run tag
func (s *MemoryStore) SetTag(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return apperr.NotFound("run", runID)
	}
	run.Tags[key] = value
	return nil
}

// GetRunEvents returns the newest events first
func (s *MemoryStore) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, apperr.NotFound("run", runID)
	}

	events := s.events[runID]
	out := make([]models.RunEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, events[i])
	}
	return out, nil
}

func (s *MemoryStore) appendEvent(runID string, from *models.RunStatus, to models.RunStatus, reason string) {
	s.nextEventID++
	s.events[runID] = append(s.events[runID], models.RunEvent{
		ID:         s.nextEventID,
		RunID:      runID,
		At:         time.Now().UTC(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	})
}

// CreateRegisteredModel creates a registered model name
func (s *MemoryStore) CreateRegisteredModel(ctx context.Context, name, description string) (*models.RegisteredModel, error) {
	if name == "" {
		return nil, apperr.Invalid("registered model name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[name]; ok {
		return nil, apperr.AlreadyExists("registered model", name)
	}

	now := time.Now().UTC()
	rm := &models.RegisteredModel{Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	s.registered[name] = rm

	copied := *rm
	return &copied, nil
}

// GetRegisteredModel retrieves a registered model by name
func (s *MemoryStore) GetRegisteredModel(ctx context.Context, name string) (*models.RegisteredModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm, ok := s.registered[name]
	if !ok {
		return nil, apperr.NotFound("registered model", name)
	}
	copied := *rm
	return &copied, nil
}

// CreateModelVersion assigns the next version number of a registered model
func (s *MemoryStore) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.registered[name]
	if !ok {
		return nil, apperr.NotFound("registered model", name)
	}

	next := 1
	for _, v := range s.versions[name] {
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	now := time.Now().UTC()
	mv := &models.ModelVersion{
		Name:      name,
		Version:   next,
		Source:    source,
		RunID:     runID,
		Status:    models.ModelVersionReady,
		CreatedAt: now,
	}
	s.versions[name] = append(s.versions[name], mv)
	rm.UpdatedAt = now

	copied := *mv
	return &copied, nil
}

// GetModelVersion retrieves one version of a registered model
func (s *MemoryStore) GetModelVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[name] {
		if v.Version == version {
			copied := *v
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("model version", name+"/"+strconv.Itoa(version))
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRun(run *models.Run) *models.Run {
	c := *run
	c.Params = append([]models.Param(nil), run.Params...)
	c.Metrics = append([]models.Metric(nil), run.Metrics...)
	c.Tags = make(map[string]string, len(run.Tags))
	for k, v := range run.Tags {
		c.Tags[k] = v
	}
	if run.EndTime != nil {
		t := *run.EndTime
		c.EndTime = &t
	}
	sort.SliceStable(c.Params, func(i, j int) bool { return c.Params[i].Key < c.Params[j].Key })
	return &c
}
