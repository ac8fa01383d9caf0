package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/models"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
)

// DashboardView is a dashboard with its widget placements resolved.
type DashboardView struct {
	Dashboard *models.Dashboard `json:"dashboard"`
	Widgets   []*PlacedWidget   `json:"widgets"`
}

// PlacedWidget pairs a placement with its widget definition.
type PlacedWidget struct {
	Placement *models.DashboardWidget `json:"placement"`
	Widget    *models.Widget          `json:"widget"`
}

// DashboardService manages dashboards and their widget layout.
type DashboardService interface {
	Create(ctx context.Context, d *models.Dashboard) error
	Get(ctx context.Context, organizationID, id uuid.UUID) (*DashboardView, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]*models.Dashboard, error)
	Update(ctx context.Context, d *models.Dashboard) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	AddWidget(ctx context.Context, organizationID uuid.UUID, placement *models.DashboardWidget) error
	UpdatePlacement(ctx context.Context, organizationID uuid.UUID, placement *models.DashboardWidget) error
	RemoveWidget(ctx context.Context, organizationID, dashboardID, placementID uuid.UUID) error

	// Data renders every widget on the dashboard, applying per-placement
	// local filters.
	Data(ctx context.Context, organizationID, id uuid.UUID) ([]*WidgetData, error)
}

type dashboardService struct {
	repo       repositories.DashboardRepository
	widgetRepo repositories.WidgetRepository
	dsRepo     repositories.DataSourceRepository
	fetcher    DataFetcher
	processor  *WidgetProcessor
	logger     *zap.Logger
}

// NewDashboardService creates the dashboard service.
func NewDashboardService(
	repo repositories.DashboardRepository,
	widgetRepo repositories.WidgetRepository,
	dsRepo repositories.DataSourceRepository,
	fetcher DataFetcher,
	processor *WidgetProcessor,
	logger *zap.Logger,
) DashboardService {
	return &dashboardService{
		repo:       repo,
		widgetRepo: widgetRepo,
		dsRepo:     dsRepo,
		fetcher:    fetcher,
		processor:  processor,
		logger:     logger,
	}
}

func (s *dashboardService) Create(ctx context.Context, d *models.Dashboard) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	d.IsActive = true
	return s.repo.Create(ctx, d)
}

func (s *dashboardService) Get(ctx context.Context, organizationID, id uuid.UUID) (*DashboardView, error) {
	d, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	placements, err := s.repo.ListPlacements(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &DashboardView{Dashboard: d, Widgets: make([]*PlacedWidget, 0, len(placements))}
	for _, p := range placements {
		w, err := s.widgetRepo.GetByID(ctx, organizationID, p.WidgetID)
		if err != nil {
			// A widget deleted out from under its placement is skipped.
			s.logger.Warn("placement references missing widget",
				zap.String("dashboard_id", id.String()),
				zap.String("widget_id", p.WidgetID.String()))
			continue
		}
		view.Widgets = append(view.Widgets, &PlacedWidget{Placement: p, Widget: w})
	}
	return view, nil
}

func (s *dashboardService) List(ctx context.Context, organizationID uuid.UUID) ([]*models.Dashboard, error) {
	return s.repo.List(ctx, organizationID)
}

func (s *dashboardService) Update(ctx context.Context, d *models.Dashboard) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return s.repo.Update(ctx, d)
}

func (s *dashboardService) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return s.repo.Delete(ctx, organizationID, id)
}

func (s *dashboardService) AddWidget(ctx context.Context, organizationID uuid.UUID, placement *models.DashboardWidget) error {
	// Both sides of the placement must belong to the organization.
	if _, err := s.repo.GetByID(ctx, organizationID, placement.DashboardID); err != nil {
		return err
	}
	if _, err := s.widgetRepo.GetByID(ctx, organizationID, placement.WidgetID); err != nil {
		return err
	}
	if placement.Width <= 0 {
		placement.Width = 4
	}
	if placement.Height <= 0 {
		placement.Height = 3
	}
	return s.repo.AddWidget(ctx, placement)
}

func (s *dashboardService) UpdatePlacement(ctx context.Context, organizationID uuid.UUID, placement *models.DashboardWidget) error {
	if _, err := s.repo.GetByID(ctx, organizationID, placement.DashboardID); err != nil {
		return err
	}
	return s.repo.UpdatePlacement(ctx, placement)
}

func (s *dashboardService) RemoveWidget(ctx context.Context, organizationID, dashboardID, placementID uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, organizationID, dashboardID); err != nil {
		return err
	}
	return s.repo.RemoveWidget(ctx, dashboardID, placementID)
}

func (s *dashboardService) Data(ctx context.Context, organizationID, id uuid.UUID) ([]*WidgetData, error) {
	view, err := s.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	// Fetch each distinct source once per render; widgets sharing a source
	// share the payload.
	payloads := make(map[uuid.UUID]*FetchResult)
	out := make([]*WidgetData, 0, len(view.Widgets))

	for _, pw := range view.Widgets {
		result, ok := payloads[pw.Widget.DataSourceID]
		if !ok {
			ds, err := s.dsRepo.GetByID(ctx, organizationID, pw.Widget.DataSourceID)
			if err != nil {
				wd := s.processor.Process(pw.Widget, nil, nil)
				wd.Error = err.Error()
				out = append(out, wd)
				continue
			}
			result, err = s.fetcher.Fetch(ctx, ds, FetchOptions{Trigger: models.TriggerAuto})
			if err != nil {
				wd := s.processor.Process(pw.Widget, nil, nil)
				wd.Error = err.Error()
				out = append(out, wd)
				continue
			}
			payloads[pw.Widget.DataSourceID] = result
		}

		if !result.Success {
			wd := s.processor.Process(pw.Widget, nil, nil)
			wd.Error = result.Error
			out = append(out, wd)
			continue
		}
		out = append(out, s.processor.Process(pw.Widget, result.Data, pw.Placement.LocalFilters))
	}
	return out, nil
}
