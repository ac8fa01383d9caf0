package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matwana-io/matwana-engine/pkg/database"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// RefreshLogRepository defines data access for the refresh audit trail.
// Entries are append-only: one Create at refresh start, one Complete when
// the attempt finishes.
type RefreshLogRepository interface {
	Create(ctx context.Context, log *models.DataRefreshLog) error
	Complete(ctx context.Context, log *models.DataRefreshLog) error
	ListByDataSource(ctx context.Context, dataSourceID uuid.UUID, limit int) ([]*models.DataRefreshLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type refreshLogRepository struct{}

// NewRefreshLogRepository creates a new refresh log repository.
func NewRefreshLogRepository() RefreshLogRepository {
	return &refreshLogRepository{}
}

func (r *refreshLogRepository) Create(ctx context.Context, log *models.DataRefreshLog) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO data_refresh_logs (data_source_id, triggered_by, status, trigger, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		log.DataSourceID, nullableString(log.TriggeredBy),
		log.Status, log.Trigger, log.StartedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to create refresh log: %w", err)
	}
	return nil
}

func (r *refreshLogRepository) Complete(ctx context.Context, log *models.DataRefreshLog) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE data_refresh_logs SET
			status = $2, records_fetched = $3, records_processed = $4,
			duration_ms = $5, data_size_bytes = $6,
			error_message = $7, error_trace = $8, completed_at = $9
		WHERE id = $1 AND completed_at IS NULL`

	_, err := scope.Conn.Exec(ctx, query,
		log.ID, log.Status, log.RecordsFetched, log.RecordsProcessed,
		log.DurationMs, log.DataSizeBytes,
		nullableString(log.ErrorMessage), nullableString(log.ErrorTrace),
		log.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to complete refresh log: %w", err)
	}
	return nil
}

func (r *refreshLogRepository) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID, limit int) ([]*models.DataRefreshLog, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, data_source_id, triggered_by, status, trigger,
			records_fetched, records_processed, duration_ms, data_size_bytes,
			error_message, error_trace, started_at, completed_at
		FROM data_refresh_logs
		WHERE data_source_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, dataSourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh logs: %w", err)
	}
	defer rows.Close()

	var out []*models.DataRefreshLog
	for rows.Next() {
		var l models.DataRefreshLog
		var triggeredBy, errorMessage, errorTrace *string

		err := rows.Scan(&l.ID, &l.DataSourceID, &triggeredBy, &l.Status, &l.Trigger,
			&l.RecordsFetched, &l.RecordsProcessed, &l.DurationMs, &l.DataSizeBytes,
			&errorMessage, &errorTrace, &l.StartedAt, &l.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh log: %w", err)
		}
		if triggeredBy != nil {
			l.TriggeredBy = *triggeredBy
		}
		if errorMessage != nil {
			l.ErrorMessage = *errorMessage
		}
		if errorTrace != nil {
			l.ErrorTrace = *errorTrace
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *refreshLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`DELETE FROM data_refresh_logs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
