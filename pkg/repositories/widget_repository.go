package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/database"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// WidgetRepository defines data access for widgets.
type WidgetRepository interface {
	Create(ctx context.Context, w *models.Widget) error
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.Widget, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]*models.Widget, error)
	ListByDataSource(ctx context.Context, organizationID, dataSourceID uuid.UUID) ([]*models.Widget, error)
	Update(ctx context.Context, w *models.Widget) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error
	CountByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int, error)
}

type widgetRepository struct{}

// NewWidgetRepository creates a new widget repository.
func NewWidgetRepository() WidgetRepository {
	return &widgetRepository{}
}

const widgetColumns = `
	id, organization_id, data_source_id, created_by_id,
	name, description, widget_type, title, subtitle, icon, color,
	query_config, fields, filters, sorting, row_limit, display_config,
	show_kpi, kpi_config, is_active, created_at, updated_at`

func scanWidget(row rowScanner) (*models.Widget, error) {
	var w models.Widget
	var createdBy *uuid.UUID
	var description, title, subtitle, icon, color *string
	var queryConfig, filters, sorting, displayCfg, kpiConfig []byte

	err := row.Scan(
		&w.ID, &w.OrganizationID, &w.DataSourceID, &createdBy,
		&w.Name, &description, &w.WidgetType, &title, &subtitle, &icon, &color,
		&queryConfig, &w.Fields, &filters, &sorting, &w.Limit, &displayCfg,
		&w.ShowKPI, &kpiConfig, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan widget: %w", err)
	}

	if createdBy != nil {
		w.CreatedByID = *createdBy
	}
	if description != nil {
		w.Description = *description
	}
	if title != nil {
		w.Title = *title
	}
	if subtitle != nil {
		w.Subtitle = *subtitle
	}
	if icon != nil {
		w.Icon = *icon
	}
	if color != nil {
		w.Color = *color
	}

	if len(queryConfig) > 0 {
		if err := json.Unmarshal(queryConfig, &w.QueryConfig); err != nil {
			return nil, fmt.Errorf("failed to decode query config: %w", err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &w.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode filters: %w", err)
		}
	}
	if len(sorting) > 0 {
		var sc models.SortConfig
		if err := json.Unmarshal(sorting, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode sorting: %w", err)
		}
		w.Sorting = &sc
	}
	if len(displayCfg) > 0 {
		_ = json.Unmarshal(displayCfg, &w.DisplayCfg)
	}
	if len(kpiConfig) > 0 {
		_ = json.Unmarshal(kpiConfig, &w.KPIConfig)
	}

	return &w, nil
}

func (r *widgetRepository) Create(ctx context.Context, w *models.Widget) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	queryConfig, err := json.Marshal(w.QueryConfig)
	if err != nil {
		return fmt.Errorf("failed to encode query config: %w", err)
	}
	filters, err := marshalOrNil(w.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	sorting, err := marshalOrNil(w.Sorting)
	if err != nil {
		return fmt.Errorf("failed to encode sorting: %w", err)
	}
	displayCfg, err := marshalOrNil(w.DisplayCfg)
	if err != nil {
		return fmt.Errorf("failed to encode display config: %w", err)
	}
	kpiConfig, err := marshalOrNil(w.KPIConfig)
	if err != nil {
		return fmt.Errorf("failed to encode kpi config: %w", err)
	}

	query := `
		INSERT INTO widgets (
			organization_id, data_source_id, created_by_id,
			name, description, widget_type, title, subtitle, icon, color,
			query_config, fields, filters, sorting, row_limit, display_config,
			show_kpi, kpi_config, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		          $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		w.OrganizationID, w.DataSourceID, nullableUUID(w.CreatedByID),
		w.Name, nullableString(w.Description), w.WidgetType,
		nullableString(w.Title), nullableString(w.Subtitle),
		nullableString(w.Icon), nullableString(w.Color),
		queryConfig, w.Fields, filters, sorting, w.Limit, displayCfg,
		w.ShowKPI, kpiConfig, w.IsActive, w.CreatedAt, w.UpdatedAt,
	).Scan(&w.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return apperrors.ErrConflict
			case "23503":
				// FK violation: the data source does not exist
				return apperrors.ErrNotFound
			}
		}
		return fmt.Errorf("failed to create widget: %w", err)
	}

	return nil
}

func (r *widgetRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.Widget, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + widgetColumns + `
		FROM widgets WHERE organization_id = $1 AND id = $2`

	return scanWidget(scope.Conn.QueryRow(ctx, query, organizationID, id))
}

func (r *widgetRepository) List(ctx context.Context, organizationID uuid.UUID) ([]*models.Widget, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + widgetColumns + `
		FROM widgets WHERE organization_id = $1 ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list widgets: %w", err)
	}
	defer rows.Close()

	return collectWidgets(rows)
}

func (r *widgetRepository) ListByDataSource(ctx context.Context, organizationID, dataSourceID uuid.UUID) ([]*models.Widget, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + widgetColumns + `
		FROM widgets
		WHERE organization_id = $1 AND data_source_id = $2
		ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, organizationID, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list widgets: %w", err)
	}
	defer rows.Close()

	return collectWidgets(rows)
}

func collectWidgets(rows pgx.Rows) ([]*models.Widget, error) {
	var out []*models.Widget
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *widgetRepository) Update(ctx context.Context, w *models.Widget) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	w.UpdatedAt = time.Now().UTC()

	queryConfig, err := json.Marshal(w.QueryConfig)
	if err != nil {
		return fmt.Errorf("failed to encode query config: %w", err)
	}
	filters, err := marshalOrNil(w.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	sorting, err := marshalOrNil(w.Sorting)
	if err != nil {
		return fmt.Errorf("failed to encode sorting: %w", err)
	}
	displayCfg, err := marshalOrNil(w.DisplayCfg)
	if err != nil {
		return fmt.Errorf("failed to encode display config: %w", err)
	}
	kpiConfig, err := marshalOrNil(w.KPIConfig)
	if err != nil {
		return fmt.Errorf("failed to encode kpi config: %w", err)
	}

	query := `
		UPDATE widgets SET
			name = $3, description = $4, widget_type = $5,
			title = $6, subtitle = $7, icon = $8, color = $9,
			query_config = $10, fields = $11, filters = $12, sorting = $13,
			row_limit = $14, display_config = $15,
			show_kpi = $16, kpi_config = $17, is_active = $18, updated_at = $19
		WHERE organization_id = $1 AND id = $2`

	tag, err := scope.Conn.Exec(ctx, query,
		w.OrganizationID, w.ID,
		w.Name, nullableString(w.Description), w.WidgetType,
		nullableString(w.Title), nullableString(w.Subtitle),
		nullableString(w.Icon), nullableString(w.Color),
		queryConfig, w.Fields, filters, sorting,
		w.Limit, displayCfg,
		w.ShowKPI, kpiConfig, w.IsActive, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update widget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *widgetRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`DELETE FROM widgets WHERE organization_id = $1 AND id = $2`,
		organizationID, id)
	if err != nil {
		return fmt.Errorf("failed to delete widget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *widgetRepository) CountByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM widgets WHERE data_source_id = $1`, dataSourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count widgets: %w", err)
	}
	return count, nil
}
