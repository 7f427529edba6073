package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"pdm-pipeline/core/apperr"
	"pdm-pipeline/core/models"
)

// RunRepository handles database operations for runs and their data
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun creates a RUNNING run together with its creation event
func (r *RunRepository) CreateRun(ctx context.Context, exp *models.Experiment, name string, startTime time.Time, tags map[string]string) (*models.Run, error) {
	experimentID, err := strconv.ParseInt(exp.ID, 10, 64)
	if err != nil {
		return nil, apperr.NotFound("experiment", exp.ID)
	}

	run := &models.Run{
		ID:           NewRunID(),
		ExperimentID: exp.ID,
		Name:         name,
		Status:       models.RunStatusRunning,
		StartTime:    startTime.UTC(),
		Tags:         make(map[string]string),
	}
	run.ArtifactURI = RunArtifactURI(exp.ArtifactLocation, run.ID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, experiment_id, name, status, start_time, artifact_uri)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, experimentID, run.Name, run.Status, run.StartTime, run.ArtifactURI)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFound("experiment", exp.ID)
		}
		return nil, err
	}

	for k, v := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (run_id, key, value) VALUES ($1, $2, $3)`,
			run.ID, k, v,
		); err != nil {
			return nil, err
		}
		run.Tags[k] = v
	}

	if err := createRunEventTx(ctx, tx, run.ID, nil, run.Status, ReasonRunCreated); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run with its params, metrics and tags
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	query := `
		SELECT id, experiment_id, name, status, start_time, end_time, artifact_uri
		FROM runs
		WHERE id = $1
	`

	var run models.Run
	var experimentID int64
	var endTime sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&experimentID,
		&run.Name,
		&run.Status,
		&run.StartTime,
		&endTime,
		&run.ArtifactURI,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("run", id)
		}
		return nil, err
	}

	run.ExperimentID = strconv.FormatInt(experimentID, 10)
	if endTime.Valid {
		run.EndTime = &endTime.Time
	}

	if run.Params, err = r.getParams(ctx, id); err != nil {
		return nil, err
	}
	if run.Metrics, err = r.getMetrics(ctx, id); err != nil {
		return nil, err
	}
	if run.Tags, err = r.getTags(ctx, id); err != nil {
		return nil, err
	}

	return &run, nil
}

func (r *RunRepository) getParams(ctx context.Context, runID string) ([]models.Param, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM params WHERE run_id = $1 ORDER BY key`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []models.Param
	for rows.Next() {
		var p models.Param
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func (r *RunRepository) getMetrics(ctx context.Context, runID string) ([]models.Metric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value, timestamp_ms, step
		FROM metrics
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []models.Metric
	for rows.Next() {
		var m models.Metric
		if err := rows.Scan(&m.Key, &m.Value, &m.Timestamp, &m.Step); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (r *RunRepository) getTags(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM tags WHERE run_id = $1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		tags[k] = v
	}
	return tags, rows.Err()
}

// UpdateRunStatus updates run status atomically with event logging
func (r *RunRepository) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, endTime *time.Time, reason string) (*models.Run, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var from models.RunStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("run", id)
		}
		return nil, err
	}

	if endTime != nil {
		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = $1, end_time = $2 WHERE id = $3`, status, endTime.UTC(), id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return nil, err
	}

	if from != status {
		if reason == "" {
			reason = ReasonRunUpdated
		}
		if err := createRunEventTx(ctx, tx, id, &from, status, reason); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetRun(ctx, id)
}

// LogParam records a parameter once; a conflicting value is rejected
func (r *RunRepository) LogParam(ctx context.Context, runID string, param models.Param) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO params (run_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO NOTHING
	`, runID, param.Key, param.Value)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.NotFound("run", runID)
		}
		return err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var existing string
	if err := r.db.QueryRowContext(ctx,
		`SELECT value FROM params WHERE run_id = $1 AND key = $2`, runID, param.Key,
	).Scan(&existing); err != nil {
		return err
	}
	if existing != param.Value {
		return apperr.Invalid("param %q already logged with value %q, cannot change to %q", param.Key, existing, param.Value)
	}
	return nil
}

// LogMetric appends a metric value
func (r *RunRepository) LogMetric(ctx context.Context, runID string, metric models.Metric) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (run_id, key, value, timestamp_ms, step)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, metric.Key, metric.Value, metric.Timestamp, metric.Step)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("run", runID)
	}
	return err
}

// SetTag sets or replaces a run tag
func (r *RunRepository) SetTag(ctx context.Context, runID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tags (run_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value
	`, runID, key, value)
	if isForeignKeyViolation(err) {
		return apperr.NotFound("run", runID)
	}
	return err
}

func createRunEventTx(ctx context.Context, tx *sql.Tx, runID string, fromStatus *models.RunStatus, toStatus models.RunStatus, reason string) error {
	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO run_events (run_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`, runID, fromStatusStr, toStatus, reason)
	return err
}
