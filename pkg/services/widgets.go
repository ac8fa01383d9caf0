package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/models"
)

// defaultChartLimit bounds chart rows and table pages when a widget
// sets no explicit limit.
const defaultChartLimit = 100

// WidgetData is the processed, render-ready payload for one widget.
type WidgetData struct {
	WidgetID    string            `json:"widget_id"`
	WidgetType  models.WidgetType `json:"widget_type"`
	Title       string            `json:"title,omitempty"`
	Data        any               `json:"data,omitempty"`
	KPI         *KPIData          `json:"kpi,omitempty"`
	Error       string            `json:"error,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// StatCardData is the payload for stat_card widgets.
type StatCardData struct {
	Value          float64    `json:"value"`
	FormattedValue string     `json:"formatted_value"`
	Unit           string     `json:"unit,omitempty"`
	Trend          *TrendInfo `json:"trend,omitempty"`
}

// TrendInfo compares the first half of the rows against the second half.
// Percentage is the magnitude of the change; Value keeps its sign.
type TrendInfo struct {
	Direction  string  `json:"direction"` // "up", "down", "neutral"
	Percentage float64 `json:"percentage"`
	Value      float64 `json:"value"`
}

// ChartDataset is one series in a chart payload. Pie and doughnut
// datasets carry no label.
type ChartDataset struct {
	Label string    `json:"label,omitempty"`
	Data  []float64 `json:"data"`
}

// ChartData is the payload for bar, line, area, pie and doughnut widgets.
type ChartData struct {
	Labels   []string       `json:"labels"`
	Datasets []ChartDataset `json:"datasets"`
}

// TableData is the payload for table widgets.
type TableData struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
}

// KPIData is a placeholder comparison block for widgets with show_kpi set.
// Target tracking is not implemented yet, so all figures are zero.
type KPIData struct {
	Current       float64 `json:"current"`
	Target        float64 `json:"target"`
	Progress      float64 `json:"progress"`
	ChangePercent float64 `json:"change_percent"`
}

// WidgetProcessor turns a widget definition plus raw source data into a
// render-ready payload.
type WidgetProcessor struct {
	logger *zap.Logger
}

// NewWidgetProcessor creates a widget processor.
func NewWidgetProcessor(logger *zap.Logger) *WidgetProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WidgetProcessor{logger: logger}
}

// Process shapes data for one widget. Processing failures land in the
// result's Error field; a widget never takes down the dashboard around it.
func (p *WidgetProcessor) Process(w *models.Widget, data any, localFilters []models.Filter) *WidgetData {
	out := &WidgetData{
		WidgetID:    w.ID.String(),
		WidgetType:  w.WidgetType,
		Title:       w.Title,
		GeneratedAt: time.Now().UTC(),
	}

	rows := asRows(data)
	if rows == nil {
		if data == nil {
			out.Error = "no data available"
			return out
		}
		// A lone object renders as a one-row table.
		if m, ok := data.(map[string]any); ok {
			rows = []map[string]any{m}
		} else {
			out.Error = fmt.Sprintf("payload is not tabular (%T)", data)
			return out
		}
	}

	rows = applyFilters(rows, w.Filters)
	rows = applyFilters(rows, localFilters)

	var err error
	switch w.WidgetType {
	case models.WidgetStatCard:
		out.Data, err = p.processStatCard(w, rows)
	case models.WidgetBarChart, models.WidgetLineChart, models.WidgetAreaChart:
		out.Data, err = p.processChart(w, rows)
	case models.WidgetPieChart, models.WidgetDoughnutChart:
		out.Data, err = p.processPie(w, rows)
	case models.WidgetTable:
		out.Data, err = p.processTable(w, rows)
	default:
		err = fmt.Errorf("unknown widget type %q", w.WidgetType)
	}
	if err != nil {
		out.Error = err.Error()
		out.Data = nil
		return out
	}

	if w.ShowKPI {
		out.KPI = &KPIData{}
	}
	return out
}

func applyFilters(rows []map[string]any, filters []models.Filter) []map[string]any {
	if len(filters) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, f := range filters {
			if !matchesFilter(row, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

func (p *WidgetProcessor) processStatCard(w *models.Widget, rows []map[string]any) (*StatCardData, error) {
	cfg := w.QueryConfig
	field := cfg.Field
	if field == "" {
		field = firstColumn(rows)
	}
	agg := cfg.Aggregation
	if agg == "" {
		agg = "sum"
	}

	value, ok := aggregate(rows, field, agg)
	card := &StatCardData{
		Unit:           cfg.Unit,
		FormattedValue: "N/A",
	}
	if ok {
		card.Value = value
		card.FormattedValue = FormatValue(value, cfg.Format)
	}
	card.Trend = computeTrend(rows, field, agg)
	return card, nil
}

// firstColumn is the fallback field for widgets configured without one:
// the first key of the first row in sorted order.
func firstColumn(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// aggregate reduces a column. Returns false when no usable values exist.
func aggregate(rows []map[string]any, field, aggregation string) (float64, bool) {
	if aggregation == "count" {
		return float64(len(rows)), true
	}

	values := columnValues(rows, field)
	if len(values) == 0 {
		return 0, false
	}

	switch aggregation {
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, true
	case "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), true
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	default:
		// "value" and unrecognized aggregations take the first row.
		return values[0], true
	}
}

func columnValues(rows []map[string]any, field string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if v, ok := toFloat(row[field]); ok {
			out = append(out, v)
		}
	}
	return out
}

// computeTrend splits the rows in half and compares the aggregate of each
// side. Only sum and avg aggregations trend meaningfully; a zero first
// half would divide by zero, so it yields no trend.
func computeTrend(rows []map[string]any, field, aggregation string) *TrendInfo {
	if aggregation != "sum" && aggregation != "avg" {
		return nil
	}
	if len(rows) < 2 {
		return nil
	}

	half := len(rows) / 2
	first, ok := aggregate(rows[:half], field, aggregation)
	if !ok || first == 0 {
		return nil
	}
	last, ok := aggregate(rows[len(rows)-half:], field, aggregation)
	if !ok {
		return nil
	}

	change := (last - first) / first * 100.0
	direction := "neutral"
	if change > 0 {
		direction = "up"
	} else if change < 0 {
		direction = "down"
	}
	return &TrendInfo{Direction: direction, Percentage: math.Abs(change), Value: change}
}

func (p *WidgetProcessor) processChart(w *models.Widget, rows []map[string]any) (*ChartData, error) {
	cfg := w.QueryConfig
	xField := cfg.XAxis
	yField := cfg.YAxis
	if cfg.Grouping != "" {
		xField = cfg.Grouping
	}
	if xField == "" || yField == "" {
		return nil, fmt.Errorf("chart requires query_config.x_axis and y_axis")
	}

	// Grouping collapses rows sharing an x value through the configured
	// aggregation. Without it every row becomes a point.
	if cfg.Grouping != "" {
		agg := cfg.Aggregation
		if agg == "" {
			agg = "sum"
		}
		rows = groupRows(rows, xField, yField, agg)
	}

	if sc := cfg.Sorting; sc != nil {
		field := sc.Field
		if field == "" {
			field = xField
		}
		sortRows(rows, &models.SortConfig{Field: field, Order: sc.Order})
	}

	limit := w.Limit
	if limit <= 0 {
		limit = defaultChartLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	labels := make([]string, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		labelVal, ok := row[xField]
		if !ok || labelVal == nil {
			continue
		}
		y, ok := toFloat(row[yField])
		if !ok {
			continue
		}
		labels = append(labels, fmt.Sprintf("%v", labelVal))
		values = append(values, y)
	}

	return &ChartData{
		Labels:   labels,
		Datasets: []ChartDataset{{Label: yField, Data: values}},
	}, nil
}

// groupRows collapses rows sharing an x value into one row holding the
// aggregate of the y values, ordered by x ascending.
func groupRows(rows []map[string]any, xField, yField, aggregation string) []map[string]any {
	grouped := make(map[string][]map[string]any)
	for _, row := range rows {
		labelVal, ok := row[xField]
		if !ok || labelVal == nil {
			continue
		}
		key := fmt.Sprintf("%v", labelVal)
		grouped[key] = append(grouped[key], row)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		v, ok := aggregate(grouped[key], yField, aggregation)
		if !ok {
			continue
		}
		out = append(out, map[string]any{xField: key, yField: v})
	}
	return out
}

func (p *WidgetProcessor) processPie(w *models.Widget, rows []map[string]any) (*ChartData, error) {
	cfg := w.QueryConfig
	if cfg.LabelField == "" || cfg.ValueField == "" {
		return nil, fmt.Errorf("pie chart requires query_config.label_field and value_field")
	}

	sums := make(map[string]float64)
	for _, row := range rows {
		labelVal, ok := row[cfg.LabelField]
		if !ok || labelVal == nil {
			continue
		}
		v, ok := toFloat(row[cfg.ValueField])
		if !ok {
			continue
		}
		sums[fmt.Sprintf("%v", labelVal)] += v
	}

	// Every slice renders; pie charts take no limit.
	labels := make([]string, 0, len(sums))
	for label := range sums {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	values := make([]float64, len(labels))
	for i, label := range labels {
		values[i] = sums[label]
	}
	return &ChartData{Labels: labels, Datasets: []ChartDataset{{Data: values}}}, nil
}

func (p *WidgetProcessor) processTable(w *models.Widget, rows []map[string]any) (*TableData, error) {
	if w.Sorting != nil && w.Sorting.Field != "" {
		sortRows(rows, w.Sorting)
	}

	limit := w.Limit
	if limit <= 0 {
		limit = defaultChartLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	// Project columns. With no explicit field list the first row's keys
	// decide the column set, sorted for stability.
	columns := w.Fields
	if len(columns) == 0 && len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	projected := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(columns))
		for _, col := range columns {
			rec[col] = row[col]
		}
		projected = append(projected, rec)
	}

	// TotalRows counts the returned page, not the full row set. Dashboard
	// pagination relies on this figure matching len(rows).
	return &TableData{
		Columns:   columns,
		Rows:      projected,
		TotalRows: len(projected),
	}, nil
}

func sortRows(rows []map[string]any, sc *models.SortConfig) {
	desc := strings.EqualFold(sc.Order, "desc")
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareValues(rows[i][sc.Field], rows[j][sc.Field])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// FormatValue renders a numeric value per the widget's display format.
// Currency renders in Kenyan shillings with thousands separators.
func FormatValue(value float64, format string) string {
	switch format {
	case "currency":
		return "KES " + withThousands(value, 2)
	case "percentage":
		return fmt.Sprintf("%.1f%%", value)
	case "integer":
		return withThousands(math.Round(value), 0)
	case "decimal":
		return fmt.Sprintf("%.2f", value)
	default:
		if value == math.Trunc(value) {
			return withThousands(value, 0)
		}
		return fmt.Sprintf("%.2f", value)
	}
}

// withThousands formats a number with comma separators and the given
// number of decimal places.
func withThousands(value float64, decimals int) string {
	neg := value < 0
	if neg {
		value = -value
	}

	s := fmt.Sprintf("%.*f", decimals, value)
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteString(fracPart)
	return b.String()
}
