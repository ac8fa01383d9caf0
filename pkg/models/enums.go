package models

import "fmt"

// SourceType identifies how a data source is retrieved.
type SourceType string

const (
	SourceAPI         SourceType = "api"
	SourceUpload      SourceType = "upload"
	SourceDatabase    SourceType = "database"
	SourceWebsocket   SourceType = "websocket"
	SourceDocument    SourceType = "document"
	SourceSpreadsheet SourceType = "spreadsheet"
	SourceLink        SourceType = "link"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, error) {
	switch st := SourceType(s); st {
	case SourceAPI, SourceUpload, SourceDatabase, SourceWebsocket,
		SourceDocument, SourceSpreadsheet, SourceLink:
		return st, nil
	default:
		return "", fmt.Errorf("unknown source type %q", s)
	}
}

// DataFormat identifies the structural format of fetched payloads.
type DataFormat string

const (
	// FormatAuto defers to detection; DetectedFormat holds the result.
	FormatAuto DataFormat = "auto"

	FormatJSON    DataFormat = "json"
	FormatCSV     DataFormat = "csv"
	FormatXML     DataFormat = "xml"
	FormatExcel   DataFormat = "excel"
	FormatParquet DataFormat = "parquet"
	FormatPDF     DataFormat = "pdf"
	FormatDOCX    DataFormat = "docx"
	FormatTXT     DataFormat = "txt"
	FormatHTML    DataFormat = "html"
)

// ParseDataFormat validates a data format string.
func ParseDataFormat(s string) (DataFormat, error) {
	switch f := DataFormat(s); f {
	case FormatAuto, FormatJSON, FormatCSV, FormatXML, FormatExcel,
		FormatParquet, FormatPDF, FormatDOCX, FormatTXT, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown data format %q", s)
	}
}

// AuthType identifies how credentials are injected into a fetch.
type AuthType string

const (
	AuthNone       AuthType = "none"
	AuthBasic      AuthType = "basic"
	AuthBearer     AuthType = "bearer"
	AuthAPIKey     AuthType = "api_key"
	AuthOAuth2     AuthType = "oauth2"
	AuthQueryParam AuthType = "query_param"
)

// ParseAuthType validates an auth type string.
func ParseAuthType(s string) (AuthType, error) {
	switch a := AuthType(s); a {
	case AuthNone, AuthBasic, AuthBearer, AuthAPIKey, AuthOAuth2, AuthQueryParam:
		return a, nil
	default:
		return "", fmt.Errorf("unknown auth type %q", s)
	}
}

// HealthStatus is the coarse availability classification of a data source.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// WidgetType enumerates visualization variants.
type WidgetType string

const (
	WidgetStatCard      WidgetType = "stat_card"
	WidgetTable         WidgetType = "table"
	WidgetBarChart      WidgetType = "bar_chart"
	WidgetLineChart     WidgetType = "line_chart"
	WidgetAreaChart     WidgetType = "area_chart"
	WidgetPieChart      WidgetType = "pie_chart"
	WidgetDoughnutChart WidgetType = "doughnut_chart"
)

// ParseWidgetType validates a widget type string.
func ParseWidgetType(s string) (WidgetType, error) {
	switch w := WidgetType(s); w {
	case WidgetStatCard, WidgetTable, WidgetBarChart, WidgetLineChart,
		WidgetAreaChart, WidgetPieChart, WidgetDoughnutChart:
		return w, nil
	default:
		return "", fmt.Errorf("unknown widget type %q", s)
	}
}

// RefreshTrigger records what initiated a fetch attempt.
type RefreshTrigger string

const (
	TriggerManual    RefreshTrigger = "manual"
	TriggerScheduled RefreshTrigger = "scheduled"
	TriggerAPI       RefreshTrigger = "api"
	TriggerAuto      RefreshTrigger = "auto"
)

// RefreshStatus is the lifecycle state of one refresh log entry.
type RefreshStatus string

const (
	RefreshRunning RefreshStatus = "running"
	RefreshSuccess RefreshStatus = "success"
	RefreshError   RefreshStatus = "error"
)
