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

// WidgetService manages widget definitions and produces their data.
type WidgetService interface {
	Create(ctx context.Context, w *models.Widget) error
	Get(ctx context.Context, organizationID, id uuid.UUID) (*models.Widget, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]*models.Widget, error)
	ListByDataSource(ctx context.Context, organizationID, dataSourceID uuid.UUID) ([]*models.Widget, error)
	Update(ctx context.Context, w *models.Widget) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error

	// Data fetches the widget's source (cache permitting) and shapes the
	// payload for rendering.
	Data(ctx context.Context, organizationID, id uuid.UUID) (*WidgetData, error)
}

type widgetService struct {
	repo      repositories.WidgetRepository
	dsRepo    repositories.DataSourceRepository
	fetcher   DataFetcher
	processor *WidgetProcessor
	logger    *zap.Logger
}

// NewWidgetService creates the widget service.
func NewWidgetService(
	repo repositories.WidgetRepository,
	dsRepo repositories.DataSourceRepository,
	fetcher DataFetcher,
	processor *WidgetProcessor,
	logger *zap.Logger,
) WidgetService {
	return &widgetService{
		repo:      repo,
		dsRepo:    dsRepo,
		fetcher:   fetcher,
		processor: processor,
		logger:    logger,
	}
}

func (s *widgetService) Create(ctx context.Context, w *models.Widget) error {
	if err := validateWidget(w); err != nil {
		return err
	}

	// The bound data source must exist within the organization.
	if _, err := s.dsRepo.GetByID(ctx, w.OrganizationID, w.DataSourceID); err != nil {
		return err
	}

	w.IsActive = true
	if err := s.repo.Create(ctx, w); err != nil {
		return err
	}

	s.logger.Info("widget created",
		zap.String("widget_id", w.ID.String()),
		zap.String("widget_type", string(w.WidgetType)),
		zap.String("data_source_id", w.DataSourceID.String()))
	return nil
}

func (s *widgetService) Get(ctx context.Context, organizationID, id uuid.UUID) (*models.Widget, error) {
	return s.repo.GetByID(ctx, organizationID, id)
}

func (s *widgetService) List(ctx context.Context, organizationID uuid.UUID) ([]*models.Widget, error) {
	return s.repo.List(ctx, organizationID)
}

func (s *widgetService) ListByDataSource(ctx context.Context, organizationID, dataSourceID uuid.UUID) ([]*models.Widget, error) {
	return s.repo.ListByDataSource(ctx, organizationID, dataSourceID)
}

func (s *widgetService) Update(ctx context.Context, w *models.Widget) error {
	if err := validateWidget(w); err != nil {
		return err
	}
	return s.repo.Update(ctx, w)
}

func (s *widgetService) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return s.repo.Delete(ctx, organizationID, id)
}

func (s *widgetService) Data(ctx context.Context, organizationID, id uuid.UUID) (*WidgetData, error) {
	w, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}

	ds, err := s.dsRepo.GetByID(ctx, organizationID, w.DataSourceID)
	if err != nil {
		return nil, err
	}

	result, err := s.fetcher.Fetch(ctx, ds, FetchOptions{Trigger: models.TriggerAuto})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		// Source failure degrades to an error payload; the widget frame
		// still renders.
		out := s.processor.Process(w, nil, nil)
		out.Error = result.Error
		return out, nil
	}

	return s.processor.Process(w, result.Data, nil), nil
}

func validateWidget(w *models.Widget) error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := models.ParseWidgetType(string(w.WidgetType)); err != nil {
		return err
	}
	if w.DataSourceID == uuid.Nil {
		return fmt.Errorf("data_source_id is required")
	}
	return nil
}
