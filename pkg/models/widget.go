package models

import (
	"time"

	"github.com/google/uuid"
)

// Widget is a named query + visualization definition bound to exactly one
// data source. The data source owns its widgets: deleting it cascades.
type Widget struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	DataSourceID   uuid.UUID `json:"data_source_id"`
	CreatedByID    uuid.UUID `json:"created_by_id,omitempty"`

	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	WidgetType  WidgetType `json:"widget_type"`

	// Display
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Color    string `json:"color,omitempty"`

	// Query shape
	QueryConfig QueryConfig    `json:"query_config"`
	Fields      []string       `json:"fields,omitempty"`
	Filters     []Filter       `json:"filters,omitempty"`
	Sorting     *SortConfig    `json:"sorting,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	DisplayCfg  map[string]any `json:"display_config,omitempty"`

	// KPI
	ShowKPI   bool           `json:"show_kpi"`
	KPIConfig map[string]any `json:"kpi_config,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueryConfig holds the per-type shaping parameters.
type QueryConfig struct {
	// stat_card
	Field       string `json:"field,omitempty"`
	Aggregation string `json:"aggregation,omitempty"` // value, sum, avg, count, min, max
	Format      string `json:"format,omitempty"`      // currency, percentage, integer, decimal
	Unit        string `json:"unit,omitempty"`

	// bar/line/area charts
	XAxis    string `json:"x_axis,omitempty"`
	YAxis    string `json:"y_axis,omitempty"`
	Grouping string `json:"grouping,omitempty"`

	// pie/doughnut charts
	LabelField string `json:"label_field,omitempty"`
	ValueField string `json:"value_field,omitempty"`

	Sorting *SortConfig `json:"sorting,omitempty"`
}

// Filter narrows the row set; filters compose as a logical AND.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // equals, not_equals, greater_than, less_than, contains
	Value    any    `json:"value"`
}

// SortConfig orders rows by one field.
type SortConfig struct {
	Field string `json:"field"`
	Order string `json:"order"` // "asc" or "desc"
}

// Dashboard is an ordered, positioned collection of widgets.
type Dashboard struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedByID    uuid.UUID `json:"created_by_id,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"is_default"`
	IsActive    bool   `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DashboardWidget places a widget on a dashboard grid with per-instance
// overrides. The dashboard owns the placement, not the widget.
type DashboardWidget struct {
	ID          uuid.UUID `json:"id"`
	DashboardID uuid.UUID `json:"dashboard_id"`
	WidgetID    uuid.UUID `json:"widget_id"`

	// Grid position
	PosX   int `json:"pos_x"`
	PosY   int `json:"pos_y"`
	Width  int `json:"width"`
	Height int `json:"height"`

	// Per-instance overrides
	TitleOverride string   `json:"title_override,omitempty"`
	ColorOverride string   `json:"color_override,omitempty"`
	LocalFilters  []Filter `json:"local_filters,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
