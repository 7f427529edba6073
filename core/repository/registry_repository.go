package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// RegistryRepository handles database operations for registered models and versions
type RegistryRepository struct {
	db *DB
}

// NewRegistryRepository creates a new registry repository
func NewRegistryRepository(db *DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// CreateRegisteredModel creates a registered model name
func (r *RegistryRepository) CreateRegisteredModel(ctx context.Context, name, description string) (*models.RegisteredModel, error) {
	if name == "" {
		return nil, apperr.Invalid("registered model name must not be empty")
	}

	rm := models.RegisteredModel{Name: name, Description: description}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO registered_models (name, description)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, name, description).Scan(&rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.AlreadyExists("registered model", name)
		}
		return nil, err
	}
	return &rm, nil
}

// GetRegisteredModel retrieves a registered model by name
func (r *RegistryRepository) GetRegisteredModel(ctx context.Context, name string) (*models.RegisteredModel, error) {
	var rm models.RegisteredModel
	err := r.db.QueryRowContext(ctx, `
		SELECT name, description, created_at, updated_at
		FROM registered_models
		WHERE name = $1
	`, name).Scan(&rm.Name, &rm.Description, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("registered model", name)
		}
		return nil, err
	}
	return &rm, nil
}

// CreateModelVersion assigns max(version)+1 while holding the registered model row lock
func (r *RegistryRepository) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT name FROM registered_models WHERE name = $1 FOR UPDATE`, name).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("registered model", name)
		}
		return nil, err
	}

	mv := models.ModelVersion{
		Name:   name,
		Source: source,
		RunID:  runID,
		Status: models.ModelVersionReady,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO model_versions (name, version, source, run_id, status)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM model_versions
		WHERE name = $1
		RETURNING version, created_at
	`, name, source, runID, mv.Status).Scan(&mv.Version, &mv.CreatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE registered_models SET updated_at = NOW() WHERE name = $1`, name); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &mv, nil
}

// GetModelVersion retrieves one version of a registered model
func (r *RegistryRepository) GetModelVersion(ctx context.Context, name string, version int) (*models.ModelVersion, error) {
	mv := models.ModelVersion{Name: name, Version: version}
	err := r.db.QueryRowContext(ctx, `
		SELECT source, run_id, status, created_at
		FROM model_versions
		WHERE name = $1 AND version = $2
	`, name, version).Scan(&mv.Source, &mv.RunID, &mv.Status, &mv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("model version", fmt.Sprintf("%s/%d", name, version))
		}
		return nil, err
	}
	return &mv, nil
}
