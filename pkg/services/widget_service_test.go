package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// mockWidgetRepo keeps widgets in a map keyed by id.
type mockWidgetRepo struct {
	widgets map[uuid.UUID]*models.Widget
	updated int
	deleted int
}

func (m *mockWidgetRepo) put(w *models.Widget) {
	if m.widgets == nil {
		m.widgets = make(map[uuid.UUID]*models.Widget)
	}
	m.widgets[w.ID] = w
}

func (m *mockWidgetRepo) Create(_ context.Context, w *models.Widget) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	m.put(w)
	return nil
}
func (m *mockWidgetRepo) GetByID(_ context.Context, _ uuid.UUID, id uuid.UUID) (*models.Widget, error) {
	if w, ok := m.widgets[id]; ok {
		return w, nil
	}
	return nil, apperrors.ErrNotFound
}
func (m *mockWidgetRepo) List(context.Context, uuid.UUID) ([]*models.Widget, error) {
	out := make([]*models.Widget, 0, len(m.widgets))
	for _, w := range m.widgets {
		out = append(out, w)
	}
	return out, nil
}
func (m *mockWidgetRepo) ListByDataSource(_ context.Context, _ uuid.UUID, dataSourceID uuid.UUID) ([]*models.Widget, error) {
	var out []*models.Widget
	for _, w := range m.widgets {
		if w.DataSourceID == dataSourceID {
			out = append(out, w)
		}
	}
	return out, nil
}
func (m *mockWidgetRepo) Update(_ context.Context, w *models.Widget) error {
	m.updated++
	m.put(w)
	return nil
}
func (m *mockWidgetRepo) Delete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(m.widgets, id)
	m.deleted++
	return nil
}
func (m *mockWidgetRepo) CountByDataSource(_ context.Context, dataSourceID uuid.UUID) (int, error) {
	n := 0
	for _, w := range m.widgets {
		if w.DataSourceID == dataSourceID {
			n++
		}
	}
	return n, nil
}

// mockFetcher serves canned results per data source id.
type mockFetcher struct {
	results map[uuid.UUID]*FetchResult
	err     error
	calls   int
}

func (m *mockFetcher) Fetch(_ context.Context, ds *models.DataSource, _ FetchOptions) (*FetchResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.results[ds.ID]; ok {
		return r, nil
	}
	return &FetchResult{Success: true}, nil
}

func (m *mockFetcher) TestConnection(context.Context, *models.DataSource) *FetchResult {
	return &FetchResult{Success: true}
}

func seededSource(dsRepo *mockDataSourceRepo) *models.DataSource {
	ds := &models.DataSource{ID: uuid.New(), Name: "orders", SourceType: models.SourceUpload}
	if dsRepo.sources == nil {
		dsRepo.sources = make(map[uuid.UUID]*models.DataSource)
	}
	dsRepo.sources[ds.ID] = ds
	return ds
}

func newTestWidgetService(repo *mockWidgetRepo, dsRepo *mockDataSourceRepo, fetcher *mockFetcher) WidgetService {
	return NewWidgetService(repo, dsRepo, fetcher, NewWidgetProcessor(zap.NewNop()), zap.NewNop())
}

func TestWidgetService_Create(t *testing.T) {
	repo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)
	svc := newTestWidgetService(repo, dsRepo, &mockFetcher{})

	w := &models.Widget{
		Name:         "Monthly Sales",
		WidgetType:   models.WidgetStatCard,
		DataSourceID: ds.ID,
	}
	require.NoError(t, svc.Create(context.Background(), w))
	assert.True(t, w.IsActive)
	assert.Contains(t, repo.widgets, w.ID)
}

func TestWidgetService_CreateValidation(t *testing.T) {
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)
	svc := newTestWidgetService(&mockWidgetRepo{}, dsRepo, &mockFetcher{})

	tests := []struct {
		name string
		w    models.Widget
	}{
		{"missing name", models.Widget{WidgetType: models.WidgetStatCard, DataSourceID: ds.ID}},
		{"unknown type", models.Widget{Name: "x", WidgetType: "gauge", DataSourceID: ds.ID}},
		{"missing data source id", models.Widget{Name: "x", WidgetType: models.WidgetTable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, svc.Create(context.Background(), &tt.w))
		})
	}
}

func TestWidgetService_CreateUnknownDataSource(t *testing.T) {
	svc := newTestWidgetService(&mockWidgetRepo{}, &mockDataSourceRepo{}, &mockFetcher{})

	w := &models.Widget{
		Name:         "Orphan",
		WidgetType:   models.WidgetTable,
		DataSourceID: uuid.New(),
	}
	assert.ErrorIs(t, svc.Create(context.Background(), w), apperrors.ErrNotFound)
}

func TestWidgetService_Data(t *testing.T) {
	repo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})
	w.DataSourceID = ds.ID
	repo.put(w)

	fetcher := &mockFetcher{results: map[uuid.UUID]*FetchResult{
		ds.ID: {Success: true, Data: salesRows()},
	}}
	svc := newTestWidgetService(repo, dsRepo, fetcher)

	out, err := svc.Data(context.Background(), uuid.New(), w.ID)
	require.NoError(t, err)
	require.Empty(t, out.Error)
	card := out.Data.(*StatCardData)
	assert.Equal(t, 35.0, card.Value)
	assert.Equal(t, 1, fetcher.calls)
}

func TestWidgetService_DataSourceFailureDegrades(t *testing.T) {
	repo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	w := newWidget(models.WidgetTable, models.QueryConfig{})
	w.DataSourceID = ds.ID
	repo.put(w)

	fetcher := &mockFetcher{results: map[uuid.UUID]*FetchResult{
		ds.ID: {Success: false, Error: "connection refused"},
	}}
	svc := newTestWidgetService(repo, dsRepo, fetcher)

	out, err := svc.Data(context.Background(), uuid.New(), w.ID)
	require.NoError(t, err, "a failed source still yields a renderable payload")
	assert.Equal(t, "connection refused", out.Error)
}

func TestWidgetService_DataUnknownWidget(t *testing.T) {
	svc := newTestWidgetService(&mockWidgetRepo{}, &mockDataSourceRepo{}, &mockFetcher{})
	_, err := svc.Data(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWidgetService_DataFetchError(t *testing.T) {
	repo := &mockWidgetRepo{}
	dsRepo := &mockDataSourceRepo{}
	ds := seededSource(dsRepo)

	w := newWidget(models.WidgetTable, models.QueryConfig{})
	w.DataSourceID = ds.ID
	repo.put(w)

	fetcher := &mockFetcher{err: errors.New("refresh already running")}
	svc := newTestWidgetService(repo, dsRepo, fetcher)

	_, err := svc.Data(context.Background(), uuid.New(), w.ID)
	assert.Error(t, err)
}
