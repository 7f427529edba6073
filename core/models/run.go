package models

import "time"

// Experiment groups the runs of the pipeline
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
	LifecycleStage   string
	CreatedAt        time.Time
}

// Run is one logged execution of a pipeline stage
type Run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       RunStatus
	StartTime    time.Time
	EndTime      *time.Time
	ArtifactURI  string
	Params       []Param
	Metrics      []Metric
	Tags         map[string]string
}

// RunStatus represents the lifecycle status of a run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether no further logging is accepted in this status
func (s RunStatus) Terminal() bool {
	return s == RunStatusFinished || s == RunStatusFailed || s == RunStatusKilled
}

// Param is an immutable key/value logged once per run
type Param struct {
	Key   string
	Value string
}

// Metric is one logged measurement
type Metric struct {
	Key       string
	Value     float64
	Timestamp int64 // milliseconds since epoch
	Step      int64
}
