package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// ExperimentRepository handles database operations for experiments
type ExperimentRepository struct {
	db *DB
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// CreateExperiment inserts an experiment; an empty location defaults to the experiment's artifact prefix
func (r *ExperimentRepository) CreateExperiment(ctx context.Context, name, artifactLocation string) (*models.Experiment, error) {
	if name == "" {
		return nil, apperr.Invalid("experiment name must not be empty")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	exp := models.Experiment{Name: name, LifecycleStage: "active"}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO experiments (name, artifact_location) VALUES ($1, $2) RETURNING id, created_at`,
		name, artifactLocation,
	).Scan(&id, &exp.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.AlreadyExists("experiment", name)
		}
		return nil, err
	}
	exp.ID = strconv.FormatInt(id, 10)

	exp.ArtifactLocation = artifactLocation
	if exp.ArtifactLocation == "" {
		exp.ArtifactLocation = ExperimentArtifactLocation(exp.ID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE experiments SET artifact_location = $1 WHERE id = $2`,
			exp.ArtifactLocation, id,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// GetExperiment retrieves an experiment by ID
func (r *ExperimentRepository) GetExperiment(ctx context.Context, id string) (*models.Experiment, error) {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, apperr.NotFound("experiment", id)
	}
	return r.scanOne(ctx, id, `
		SELECT id, name, artifact_location, lifecycle_stage, created_at
		FROM experiments
		WHERE id = $1
	`, numericID)
}

// GetExperimentByName retrieves an experiment by name
func (r *ExperimentRepository) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	return r.scanOne(ctx, name, `
		SELECT id, name, artifact_location, lifecycle_stage, created_at
		FROM experiments
		WHERE name = $1
	`, name)
}

func (r *ExperimentRepository) scanOne(ctx context.Context, key, query string, arg interface{}) (*models.Experiment, error) {
	var exp models.Experiment
	var id int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&id,
		&exp.Name,
		&exp.ArtifactLocation,
		&exp.LifecycleStage,
		&exp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("experiment", key)
		}
		return nil, err
	}
	exp.ID = strconv.FormatInt(id, 10)
	return &exp, nil
}
