package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/models"
)

func salesRows() []map[string]any {
	return []map[string]any{
		{"month": "Jan", "amount": 10.0, "region": "west"},
		{"month": "Jan", "amount": 5.0, "region": "east"},
		{"month": "Feb", "amount": 20.0, "region": "west"},
	}
}

func newWidget(wt models.WidgetType, cfg models.QueryConfig) *models.Widget {
	return &models.Widget{
		ID:          uuid.New(),
		WidgetType:  wt,
		Title:       "Test Widget",
		QueryConfig: cfg,
	}
}

func TestProcess_StatCardSum(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	card, ok := out.Data.(*StatCardData)
	require.True(t, ok)
	assert.Equal(t, 35.0, card.Value)
	assert.Equal(t, "35", card.FormattedValue)
}

func TestProcess_StatCardAggregations(t *testing.T) {
	rows := salesRows()

	tests := []struct {
		aggregation string
		want        float64
	}{
		{"sum", 35.0},
		{"avg", 35.0 / 3},
		{"min", 5.0},
		{"max", 20.0},
		{"count", 3.0},
		{"value", 10.0},  // first row
		{"median", 10.0}, // unrecognized falls back to the first row
		{"", 35.0},       // sum is the default
	}
	p := NewWidgetProcessor(zap.NewNop())
	for _, tt := range tests {
		t.Run("agg_"+tt.aggregation, func(t *testing.T) {
			w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: tt.aggregation})
			out := p.Process(w, rows, nil)
			require.Empty(t, out.Error)
			card := out.Data.(*StatCardData)
			assert.InDelta(t, tt.want, card.Value, 0.0001)
		})
	}
}

func TestProcess_StatCardDefaults(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())

	// With nothing configured the first column (sorted, so "amount")
	// sums, matching the widget creation defaults.
	w := newWidget(models.WidgetStatCard, models.QueryConfig{})
	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	assert.Equal(t, 35.0, out.Data.(*StatCardData).Value)

	// Count works without a field.
	w = newWidget(models.WidgetStatCard, models.QueryConfig{Aggregation: "count"})
	out = p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	assert.Equal(t, 3.0, out.Data.(*StatCardData).Value)
}

func TestProcess_StatCardNoUsableValues(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "ghost", Aggregation: "sum"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	card := out.Data.(*StatCardData)
	assert.Equal(t, "N/A", card.FormattedValue)
	assert.Zero(t, card.Value)
}

func TestComputeTrend(t *testing.T) {
	rows := []map[string]any{
		{"v": 100.0}, {"v": 100.0},
		{"v": 150.0}, {"v": 150.0},
	}

	trend := computeTrend(rows, "v", "sum")
	require.NotNil(t, trend)
	assert.Equal(t, "up", trend.Direction)
	assert.InDelta(t, 50.0, trend.Percentage, 0.0001)
	assert.InDelta(t, 50.0, trend.Value, 0.0001)

	// Percentage keeps the magnitude; Value keeps the sign.
	trend = computeTrend([]map[string]any{
		{"v": 200.0}, {"v": 100.0},
	}, "v", "sum")
	require.NotNil(t, trend)
	assert.Equal(t, "down", trend.Direction)
	assert.InDelta(t, 50.0, trend.Percentage, 0.0001)
	assert.InDelta(t, -50.0, trend.Value, 0.0001)

	trend = computeTrend([]map[string]any{
		{"v": 100.0}, {"v": 100.0},
	}, "v", "avg")
	require.NotNil(t, trend)
	assert.Equal(t, "neutral", trend.Direction)
	assert.Zero(t, trend.Percentage)
	assert.Zero(t, trend.Value)
}

func TestComputeTrend_NoTrend(t *testing.T) {
	assert.Nil(t, computeTrend(salesRows(), "amount", "count"), "only sum and avg trend")
	assert.Nil(t, computeTrend([]map[string]any{{"v": 1.0}}, "v", "sum"), "one row is not a trend")
	assert.Nil(t, computeTrend([]map[string]any{
		{"v": 0.0}, {"v": 10.0},
	}, "v", "sum"), "a zero first half cannot be a baseline")
}

func TestProcess_Chart(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetBarChart, models.QueryConfig{XAxis: "month", YAxis: "amount"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart, ok := out.Data.(*ChartData)
	require.True(t, ok)
	// Without grouping every row is its own point, duplicates included.
	assert.Equal(t, []string{"Jan", "Jan", "Feb"}, chart.Labels)
	require.Len(t, chart.Datasets, 1)
	assert.Equal(t, "amount", chart.Datasets[0].Label)
	assert.Equal(t, []float64{10.0, 5.0, 20.0}, chart.Datasets[0].Data)
}

func TestProcess_ChartGrouping(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetBarChart, models.QueryConfig{XAxis: "month", YAxis: "amount", Grouping: "month"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart := out.Data.(*ChartData)
	// Groups sum by default and order by key ascending, so repeated
	// renders are stable.
	assert.Equal(t, []string{"Feb", "Jan"}, chart.Labels)
	assert.Equal(t, []float64{20.0, 15.0}, chart.Datasets[0].Data)
}

func TestProcess_ChartGroupingAggregation(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetLineChart, models.QueryConfig{
		XAxis: "month", YAxis: "amount", Grouping: "month", Aggregation: "avg",
	})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart := out.Data.(*ChartData)
	assert.Equal(t, []string{"Feb", "Jan"}, chart.Labels)
	assert.Equal(t, []float64{20.0, 7.5}, chart.Datasets[0].Data, "grouping honors the configured aggregation")
}

func TestProcess_ChartGroupingOverridesXAxis(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetLineChart, models.QueryConfig{XAxis: "month", Grouping: "region", YAxis: "amount"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart := out.Data.(*ChartData)
	assert.Equal(t, []string{"east", "west"}, chart.Labels)
	assert.Equal(t, []float64{5.0, 30.0}, chart.Datasets[0].Data)
}

func TestProcess_ChartSorting(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetBarChart, models.QueryConfig{
		XAxis: "month", YAxis: "amount", Grouping: "month",
		Sorting: &models.SortConfig{Field: "amount", Order: "desc"},
	})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart := out.Data.(*ChartData)
	assert.Equal(t, []string{"Feb", "Jan"}, chart.Labels)
	assert.Equal(t, []float64{20.0, 15.0}, chart.Datasets[0].Data)

	// An empty sort field falls back to the x axis.
	w.QueryConfig.Sorting = &models.SortConfig{Order: "desc"}
	out = p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	chart = out.Data.(*ChartData)
	assert.Equal(t, []string{"Jan", "Feb"}, chart.Labels)
	assert.Equal(t, []float64{15.0, 20.0}, chart.Datasets[0].Data)
}

func TestProcess_ChartMissingAxes(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetBarChart, models.QueryConfig{XAxis: "month"})

	out := p.Process(w, salesRows(), nil)
	assert.NotEmpty(t, out.Error)
	assert.Nil(t, out.Data)
}

func TestProcess_ChartLimit(t *testing.T) {
	rows := make([]map[string]any, 0, 10)
	for _, label := range []string{"a", "b", "c", "d", "e"} {
		rows = append(rows, map[string]any{"x": label, "y": 1.0})
	}

	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetBarChart, models.QueryConfig{XAxis: "x", YAxis: "y"})
	w.Limit = 3

	out := p.Process(w, rows, nil)
	require.Empty(t, out.Error)
	chart := out.Data.(*ChartData)
	assert.Equal(t, []string{"a", "b", "c"}, chart.Labels, "limit takes the leading rows")
	assert.Len(t, chart.Datasets[0].Data, 3)
}

func TestProcess_Pie(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetPieChart, models.QueryConfig{LabelField: "region", ValueField: "amount"})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	chart := out.Data.(*ChartData)
	assert.Equal(t, []string{"east", "west"}, chart.Labels)
	require.Len(t, chart.Datasets, 1)
	assert.Equal(t, []float64{5.0, 30.0}, chart.Datasets[0].Data)
	assert.Empty(t, chart.Datasets[0].Label, "pie datasets carry no series label")
}

func TestProcess_PieIgnoresLimit(t *testing.T) {
	rows := make([]map[string]any, 0, 6)
	for _, label := range []string{"a", "b", "c", "d", "e", "f"} {
		rows = append(rows, map[string]any{"slice": label, "n": 1.0})
	}

	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetDoughnutChart, models.QueryConfig{LabelField: "slice", ValueField: "n"})
	w.Limit = 3

	out := p.Process(w, rows, nil)
	require.Empty(t, out.Error)
	chart := out.Data.(*ChartData)
	assert.Len(t, chart.Labels, 6, "every slice renders")
}

func TestProcess_Table(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetTable, models.QueryConfig{})
	w.Fields = []string{"month", "amount"}
	w.Sorting = &models.SortConfig{Field: "amount", Order: "desc"}

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)

	table, ok := out.Data.(*TableData)
	require.True(t, ok)
	assert.Equal(t, []string{"month", "amount"}, table.Columns)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, 20.0, table.Rows[0]["amount"], "descending sort")
	assert.NotContains(t, table.Rows[0], "region", "unselected columns are projected away")
}

func TestProcess_TableColumnsFromFirstRow(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetTable, models.QueryConfig{})

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	table := out.Data.(*TableData)
	assert.Equal(t, []string{"amount", "month", "region"}, table.Columns,
		"without an explicit field list the first row's keys sort into columns")
}

func TestProcessTable_TotalRowsCountsReturnedPage(t *testing.T) {
	// total_rows reports the page actually returned, not the size of the
	// unpaged row set. Consumers paginate against this figure, so changing
	// it to the pre-limit count would break them.
	rows := make([]map[string]any, 25)
	for i := range rows {
		rows[i] = map[string]any{"n": float64(i)}
	}

	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetTable, models.QueryConfig{})
	w.Limit = 10

	out := p.Process(w, rows, nil)
	require.Empty(t, out.Error)

	table := out.Data.(*TableData)
	assert.Len(t, table.Rows, 10)
	assert.Equal(t, 10, table.TotalRows)
	assert.Equal(t, len(table.Rows), table.TotalRows)
}

func TestProcess_Filters(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})
	w.Filters = []models.Filter{{Field: "region", Operator: "equals", Value: "west"}}

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	assert.Equal(t, 30.0, out.Data.(*StatCardData).Value)

	// Local placement filters compose with the widget's own as an AND.
	out = p.Process(w, salesRows(), []models.Filter{{Field: "month", Operator: "equals", Value: "Jan"}})
	require.Empty(t, out.Error)
	assert.Equal(t, 10.0, out.Data.(*StatCardData).Value)
}

func TestProcess_DegradedInputs(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetTable, models.QueryConfig{})

	out := p.Process(w, nil, nil)
	assert.Equal(t, "no data available", out.Error)

	out = p.Process(w, "a text payload", nil)
	assert.NotEmpty(t, out.Error)

	// A lone object renders as a one-row table.
	out = p.Process(w, map[string]any{"a": 1.0}, nil)
	require.Empty(t, out.Error)
	assert.Equal(t, 1, out.Data.(*TableData).TotalRows)
}

func TestProcess_UnknownWidgetType(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetType("gauge"), models.QueryConfig{})

	out := p.Process(w, salesRows(), nil)
	assert.Contains(t, out.Error, "unknown widget type")
}

func TestProcess_ShowKPI(t *testing.T) {
	p := NewWidgetProcessor(zap.NewNop())
	w := newWidget(models.WidgetStatCard, models.QueryConfig{Field: "amount", Aggregation: "sum"})
	w.ShowKPI = true

	out := p.Process(w, salesRows(), nil)
	require.Empty(t, out.Error)
	require.NotNil(t, out.KPI)
	assert.Zero(t, out.KPI.Current, "target tracking is not implemented yet")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value  float64
		format string
		want   string
	}{
		{1234567.891, "currency", "KES 1,234,567.89"},
		{-500.0, "currency", "KES -500.00"},
		{42.123, "percentage", "42.1%"},
		{1234.6, "integer", "1,235"},
		{3.14159, "decimal", "3.14"},
		{1000.0, "", "1,000"},
		{2.5, "", "2.50"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.value, tt.format))
		})
	}
}
