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

// DashboardRepository defines data access for dashboards and their widget
// placements.
type DashboardRepository interface {
	Create(ctx context.Context, d *models.Dashboard) error
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.Dashboard, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]*models.Dashboard, error)
	Update(ctx context.Context, d *models.Dashboard) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	AddWidget(ctx context.Context, placement *models.DashboardWidget) error
	UpdatePlacement(ctx context.Context, placement *models.DashboardWidget) error
	RemoveWidget(ctx context.Context, dashboardID, placementID uuid.UUID) error
	ListPlacements(ctx context.Context, dashboardID uuid.UUID) ([]*models.DashboardWidget, error)
}

type dashboardRepository struct{}

// NewDashboardRepository creates a new dashboard repository.
func NewDashboardRepository() DashboardRepository {
	return &dashboardRepository{}
}

func (r *dashboardRepository) Create(ctx context.Context, d *models.Dashboard) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO dashboards (organization_id, created_by_id, name, description,
			is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := scope.Conn.QueryRow(ctx, query,
		d.OrganizationID, nullableUUID(d.CreatedByID), d.Name,
		nullableString(d.Description), d.IsDefault, d.IsActive,
		d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create dashboard: %w", err)
	}
	return nil
}

func (r *dashboardRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.Dashboard, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, organization_id, created_by_id, name, description,
			is_default, is_active, created_at, updated_at
		FROM dashboards WHERE organization_id = $1 AND id = $2`

	return scanDashboard(scope.Conn.QueryRow(ctx, query, organizationID, id))
}

func scanDashboard(row rowScanner) (*models.Dashboard, error) {
	var d models.Dashboard
	var createdBy *uuid.UUID
	var description *string

	err := row.Scan(&d.ID, &d.OrganizationID, &createdBy, &d.Name, &description,
		&d.IsDefault, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan dashboard: %w", err)
	}
	if createdBy != nil {
		d.CreatedByID = *createdBy
	}
	if description != nil {
		d.Description = *description
	}
	return &d, nil
}

func (r *dashboardRepository) List(ctx context.Context, organizationID uuid.UUID) ([]*models.Dashboard, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, organization_id, created_by_id, name, description,
			is_default, is_active, created_at, updated_at
		FROM dashboards WHERE organization_id = $1
		ORDER BY is_default DESC, created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer rows.Close()

	var out []*models.Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *dashboardRepository) Update(ctx context.Context, d *models.Dashboard) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	d.UpdatedAt = time.Now().UTC()

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE dashboards SET name = $3, description = $4, is_default = $5,
			is_active = $6, updated_at = $7
		 WHERE organization_id = $1 AND id = $2`,
		d.OrganizationID, d.ID, d.Name, nullableString(d.Description),
		d.IsDefault, d.IsActive, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dashboardRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	// Placements cascade in SQL.
	tag, err := scope.Conn.Exec(ctx,
		`DELETE FROM dashboards WHERE organization_id = $1 AND id = $2`,
		organizationID, id)
	if err != nil {
		return fmt.Errorf("failed to delete dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dashboardRepository) AddWidget(ctx context.Context, placement *models.DashboardWidget) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	placement.CreatedAt = time.Now().UTC()

	localFilters, err := marshalOrNil(placement.LocalFilters)
	if err != nil {
		return fmt.Errorf("failed to encode local filters: %w", err)
	}

	query := `
		INSERT INTO dashboard_widgets (dashboard_id, widget_id,
			pos_x, pos_y, width, height,
			title_override, color_override, local_filters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		placement.DashboardID, placement.WidgetID,
		placement.PosX, placement.PosY, placement.Width, placement.Height,
		nullableString(placement.TitleOverride), nullableString(placement.ColorOverride),
		localFilters, placement.CreatedAt,
	).Scan(&placement.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to add widget to dashboard: %w", err)
	}
	return nil
}

func (r *dashboardRepository) UpdatePlacement(ctx context.Context, placement *models.DashboardWidget) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	localFilters, err := marshalOrNil(placement.LocalFilters)
	if err != nil {
		return fmt.Errorf("failed to encode local filters: %w", err)
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE dashboard_widgets SET pos_x = $3, pos_y = $4, width = $5, height = $6,
			title_override = $7, color_override = $8, local_filters = $9
		 WHERE dashboard_id = $1 AND id = $2`,
		placement.DashboardID, placement.ID,
		placement.PosX, placement.PosY, placement.Width, placement.Height,
		nullableString(placement.TitleOverride), nullableString(placement.ColorOverride),
		localFilters)
	if err != nil {
		return fmt.Errorf("failed to update placement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dashboardRepository) RemoveWidget(ctx context.Context, dashboardID, placementID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`DELETE FROM dashboard_widgets WHERE dashboard_id = $1 AND id = $2`,
		dashboardID, placementID)
	if err != nil {
		return fmt.Errorf("failed to remove widget from dashboard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dashboardRepository) ListPlacements(ctx context.Context, dashboardID uuid.UUID) ([]*models.DashboardWidget, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, dashboard_id, widget_id, pos_x, pos_y, width, height,
			title_override, color_override, local_filters, created_at
		FROM dashboard_widgets
		WHERE dashboard_id = $1
		ORDER BY pos_y, pos_x`

	rows, err := scope.Conn.Query(ctx, query, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list placements: %w", err)
	}
	defer rows.Close()

	var out []*models.DashboardWidget
	for rows.Next() {
		var p models.DashboardWidget
		var titleOverride, colorOverride *string
		var localFilters []byte

		err := rows.Scan(&p.ID, &p.DashboardID, &p.WidgetID,
			&p.PosX, &p.PosY, &p.Width, &p.Height,
			&titleOverride, &colorOverride, &localFilters, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan placement: %w", err)
		}
		if titleOverride != nil {
			p.TitleOverride = *titleOverride
		}
		if colorOverride != nil {
			p.ColorOverride = *colorOverride
		}
		if len(localFilters) > 0 {
			if err := json.Unmarshal(localFilters, &p.LocalFilters); err != nil {
				return nil, fmt.Errorf("failed to decode local filters: %w", err)
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
