package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// mockDashboardRepo keeps dashboards and placements in memory.
type mockDashboardRepo struct {
	dashboards map[uuid.UUID]*models.Dashboard
	placements []*models.DashboardWidget
	removed    int
}

func (m *mockDashboardRepo) put(d *models.Dashboard) {
	if m.dashboards == nil {
		m.dashboards = make(map[uuid.UUID]*models.Dashboard)
	}
	m.dashboards[d.ID] = d
}

func (m *mockDashboardRepo) Create(_ context.Context, d *models.Dashboard) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.put(d)
	return nil
}
func (m *mockDashboardRepo) GetByID(_ context.Context, _ uuid.UUID, id uuid.UUID) (*models.Dashboard, error) {
	if d, ok := m.dashboards[id]; ok {
		return d, nil
	}
	return nil, apperrors.ErrNotFound
}
func (m *mockDashboardRepo) List(context.Context, uuid.UUID) ([]*models.Dashboard, error) {
	out := make([]*models.Dashboard, 0, len(m.dashboards))
	for _, d := range m.dashboards {
		out = append(out, d)
	}
	return out, nil
}
func (m *mockDashboardRepo) Update(_ context.Context, d *models.Dashboard) error {
	m.put(d)
	return nil
}
func (m *mockDashboardRepo) Delete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(m.dashboards, id)
	return nil
}
func (m *mockDashboardRepo) AddWidget(_ context.Context, p *models.DashboardWidget) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.placements = append(m.placements, p)
	return nil
}
func (m *mockDashboardRepo) UpdatePlacement(_ context.Context, p *models.DashboardWidget) error {
	for i, existing := range m.placements {
		if existing.ID == p.ID {
			m.placements[i] = p
		}
	}
	return nil
}
func (m *mockDashboardRepo) RemoveWidget(_ context.Context, dashboardID, placementID uuid.UUID) error {
	m.removed++
	kept := m.placements[:0]
	for _, p := range m.placements {
		if p.DashboardID != dashboardID || p.ID != placementID {
			kept = append(kept, p)
		}
	}
	m.placements = kept
	return nil
}
func (m *mockDashboardRepo) ListPlacements(_ context.Context, dashboardID uuid.UUID) ([]*models.DashboardWidget, error) {
	var out []*models.DashboardWidget
	for _, p := range m.placements {
		if p.DashboardID == dashboardID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestDashboardService(repo *mockDashboardRepo, widgetRepo *mockWidgetRepo, dsRepo *mockDataSourceRepo, fetcher *mockFetcher) DashboardService {
	return NewDashboardService(repo, widgetRepo, dsRepo, fetcher,
		NewWidgetProcessor(zap.NewNop()), zap.NewNop())
}

func TestDashboardService_CreateRequiresName(t *testing.T) {
	svc := newTestDashboardService(&mockDashboardRepo{}, &mockWidgetRepo{}, &mockDataSourceRepo{}, &mockFetcher{})

	assert.Error(t, svc.Create(context.Background(), &models.Dashboard{Name: "  "}))

	d := &models.Dashboard{Name: "Operations"}
	require.NoError(t, svc.Create(context.Background(), d))
	assert.True(t, d.IsActive)
}

func TestDashboardService_GetResolvesPlacements(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	svc := newTestDashboardService(repo, widgetRepo, &mockDataSourceRepo{}, &mockFetcher{})

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)

	w := newWidget(models.WidgetTable, models.QueryConfig{})
	widgetRepo.put(w)
	repo.placements = []*models.DashboardWidget{
		{ID: uuid.New(), DashboardID: d.ID, WidgetID: w.ID},
		// Points at a widget that no longer exists.
		{ID: uuid.New(), DashboardID: d.ID, WidgetID: uuid.New()},
	}

	view, err := svc.Get(context.Background(), uuid.New(), d.ID)
	require.NoError(t, err)
	require.Len(t, view.Widgets, 1, "a stale placement is skipped, not fatal")
	assert.Equal(t, w.ID, view.Widgets[0].Widget.ID)
}

func TestDashboardService_AddWidget(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	svc := newTestDashboardService(repo, widgetRepo, &mockDataSourceRepo{}, &mockFetcher{})

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)
	w := newWidget(models.WidgetTable, models.QueryConfig{})
	widgetRepo.put(w)

	p := &models.DashboardWidget{DashboardID: d.ID, WidgetID: w.ID}
	require.NoError(t, svc.AddWidget(context.Background(), uuid.New(), p))
	assert.Equal(t, 4, p.Width, "unset dimensions take grid defaults")
	assert.Equal(t, 3, p.Height)
	require.Len(t, repo.placements, 1)
}

func TestDashboardService_AddWidgetValidatesOwnership(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	svc := newTestDashboardService(repo, widgetRepo, &mockDataSourceRepo{}, &mockFetcher{})

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)

	// Unknown dashboard.
	err := svc.AddWidget(context.Background(), uuid.New(),
		&models.DashboardWidget{DashboardID: uuid.New(), WidgetID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Known dashboard, unknown widget.
	err = svc.AddWidget(context.Background(), uuid.New(),
		&models.DashboardWidget{DashboardID: d.ID, WidgetID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, repo.placements)
}

func TestDashboardService_RemoveWidget(t *testing.T) {
	repo := &mockDashboardRepo{}
	svc := newTestDashboardService(repo, &mockWidgetRepo{}, &mockDataSourceRepo{}, &mockFetcher{})

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)
	p := &models.DashboardWidget{ID: uuid.New(), DashboardID: d.ID, WidgetID: uuid.New()}
	repo.placements = []*models.DashboardWidget{p}

	require.NoError(t, svc.RemoveWidget(context.Background(), uuid.New(), d.ID, p.ID))
	assert.Empty(t, repo.placements)

	err := svc.RemoveWidget(context.Background(), uuid.New(), uuid.New(), p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDashboardService_DataSharesSourcePayload(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)

	sum := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})
	sum.DataSourceID = ds.ID
	avg := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "avg"})
	avg.DataSourceID = ds.ID
	widgetRepo.put(sum)
	widgetRepo.put(avg)
	repo.placements = []*models.DashboardWidget{
		{ID: uuid.New(), DashboardID: d.ID, WidgetID: sum.ID},
		{ID: uuid.New(), DashboardID: d.ID, WidgetID: avg.ID},
	}

	fetcher := &mockFetcher{results: map[uuid.UUID]*FetchResult{
		ds.ID: {Success: true, Data: salesRows()},
	}}
	svc := newTestDashboardService(repo, widgetRepo, dsRepo, fetcher)

	out, err := svc.Data(context.Background(), uuid.New(), d.ID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, fetcher.calls, "widgets on the same source share one fetch")
	for _, wd := range out {
		assert.Empty(t, wd.Error)
		assert.IsType(t, &StatCardData{}, wd.Data)
	}
}

func TestDashboardService_DataAppliesLocalFilters(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)

	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})
	w.DataSourceID = ds.ID
	widgetRepo.put(w)
	repo.placements = []*models.DashboardWidget{{
		ID:          uuid.New(),
		DashboardID: d.ID,
		WidgetID:    w.ID,
		LocalFilters: []models.Filter{
			{Field: "region", Operator: "equals", Value: "west"},
		},
	}}

	fetcher := &mockFetcher{results: map[uuid.UUID]*FetchResult{
		ds.ID: {Success: true, Data: salesRows()},
	}}
	svc := newTestDashboardService(repo, widgetRepo, dsRepo, fetcher)

	out, err := svc.Data(context.Background(), uuid.New(), d.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	card := out[0].Data.(*StatCardData)
	assert.Equal(t, 30.0, card.Value, "only west rows survive the placement filter")
}

func TestDashboardService_DataSourceFailureDegradesPerWidget(t *testing.T) {
	repo := &mockDashboardRepo{}
	widgetRepo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	d := &models.Dashboard{ID: uuid.New(), Name: "Ops"}
	repo.put(d)
	w := newWidget(models.WidgetTable, models.QueryConfig{})
	w.DataSourceID = ds.ID
	widgetRepo.put(w)
	repo.placements = []*models.DashboardWidget{
		{ID: uuid.New(), DashboardID: d.ID, WidgetID: w.ID},
	}

	fetcher := &mockFetcher{results: map[uuid.UUID]*FetchResult{
		ds.ID: {Success: false, Error: "upstream timeout"},
	}}
	svc := newTestDashboardService(repo, widgetRepo, dsRepo, fetcher)

	out, err := svc.Data(context.Background(), uuid.New(), d.ID)
	require.NoError(t, err, "a broken source never takes down the dashboard")
	require.Len(t, out, 1)
	assert.Equal(t, "upstream timeout", out[0].Error)
}
