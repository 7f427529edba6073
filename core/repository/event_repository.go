package repository

import (
	"context"
	"database/sql"

	"pdm-pipeline/core/models"
)

// EventRepository handles database operations for run events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetRunEvents retrieves the newest events of a run; limit <= 0 returns all
func (r *EventRepository) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error) {
	query := `
		SELECT id, run_id, at, from_status, to_status, reason
		FROM run_events
		WHERE run_id = $1
		ORDER BY at DESC, id DESC
	`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.RunEvent
	for rows.Next() {
		var event models.RunEvent
		var fromStatus sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
		)
		if err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status := models.RunStatus(fromStatus.String)
			event.FromStatus = &status
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
