package models

import "time"

// RegisteredModel is a named family of model versions
type RegisteredModel struct {
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Description string
}

// ModelVersion is an immutable, numbered pointer to a model artifact
type ModelVersion struct {
	Name      string
	Version   int
	Source    string // runs:/<run_id>/<artifact path>
	RunID     string
	Status    string
	CreatedAt time.Time
}

// ModelVersionStatus values mirror the registry API
const (
	ModelVersionReady = "READY"
)
