package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/matwana-io/matwana-engine/pkg/schema"
)

// Health state thresholds. Transitions are recomputed on every outcome.
const (
	degradedFailureThreshold = 3
	downFailureThreshold     = 5
	degradedSuccessRate      = 80.0
	alertCooldown            = time.Hour
)

// maxErrorMessageLen truncates stored error messages.
const maxErrorMessageLen = 1000

// DataSource represents one external data feed for an organization.
// Credential fields are encrypted at rest by the service layer and are
// never logged or serialized to the API.
type DataSource struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedByID    uuid.UUID `json:"created_by_id,omitempty"`

	// Identification
	Name        string   `json:"name"`
	Reference   string   `json:"reference"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Source configuration, discriminated by SourceType
	SourceType     SourceType `json:"source_type"`
	DataFormat     DataFormat `json:"data_format"`
	DetectedFormat DataFormat `json:"detected_format,omitempty"`
	MimeType       string     `json:"mime_type,omitempty"`

	// API configuration
	APIEndpoint       string            `json:"api_endpoint,omitempty"`
	APIMethod         string            `json:"api_method,omitempty"`
	APIHeaders        map[string]string `json:"api_headers,omitempty"`
	APIParams         map[string]string `json:"api_params,omitempty"`
	APIBody           string            `json:"api_body,omitempty"`
	APITimeoutSeconds int               `json:"api_timeout_seconds,omitempty"`

	// Authentication. Encrypted fields hold base64 AES-GCM ciphertext.
	AuthType              AuthType `json:"auth_type"`
	AuthUsername          string   `json:"-"`
	AuthPasswordEncrypted string   `json:"-"`
	AuthTokenEncrypted    string   `json:"-"`
	AuthAPIKeyEncrypted   string   `json:"-"`
	AuthHeaderName        string   `json:"auth_header_name,omitempty"` // for api_key auth
	AuthParamName         string   `json:"auth_param_name,omitempty"`  // for query_param auth

	// File / upload configuration
	FilePath string `json:"file_path,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileHash string `json:"file_hash,omitempty"` // SHA-256

	// Database configuration
	DBType              string `json:"db_type,omitempty"` // "postgres", "sqlserver"
	DBHost              string `json:"db_host,omitempty"`
	DBPort              int    `json:"db_port,omitempty"`
	DBName              string `json:"db_name,omitempty"`
	DBUsername          string `json:"db_username,omitempty"`
	DBPasswordEncrypted string `json:"-"`
	DBSchema            string `json:"db_schema,omitempty"`
	DBTable             string `json:"db_table,omitempty"`
	QueryString         string `json:"query_string,omitempty"`

	// Data processing
	DataPath  string         `json:"data_path,omitempty"` // dotted path, e.g. $.data.items
	Transform []TransformOp  `json:"transform,omitempty"`
	Schema    *schema.Schema `json:"schema,omitempty"`

	SchemaInferredAt *time.Time `json:"schema_inferred_at,omitempty"`
	ColumnCount      int        `json:"column_count,omitempty"`
	SampleData       any        `json:"sample_data,omitempty"` // first 5 rows

	// Refresh policy
	AutoRefresh       bool       `json:"auto_refresh"`
	RefreshFrequency  int        `json:"refresh_frequency,omitempty"` // seconds
	LastRefresh       *time.Time `json:"last_refresh,omitempty"`
	LastRefreshStatus string     `json:"last_refresh_status,omitempty"`
	NextRefresh       *time.Time `json:"next_refresh,omitempty"`
	RefreshInProgress bool       `json:"refresh_in_progress"`
	TaskID            string     `json:"task_id,omitempty"` // background refresh handle

	// Cache
	CacheEnabled    bool       `json:"cache_enabled"`
	CacheTTLSeconds int        `json:"cache_ttl_seconds"`
	CachedData      any        `json:"-"`
	CachedAt        *time.Time `json:"cached_at,omitempty"`

	// Data statistics
	RecordCount     int        `json:"record_count"`
	LastRecordCount int        `json:"last_record_count,omitempty"`
	DataSizeBytes   int64      `json:"data_size_bytes,omitempty"`
	DataUpdatedAt   *time.Time `json:"data_updated_at,omitempty"`

	// Health & monitoring
	HealthStatus        HealthStatus `json:"health_status"`
	HealthCheckedAt     *time.Time   `json:"health_checked_at,omitempty"`
	UptimePercentage    float64      `json:"uptime_percentage"`
	AvgResponseTime     float64      `json:"avg_response_time,omitempty"` // ms, exponential smoothing
	MinResponseTime     float64      `json:"min_response_time,omitempty"`
	MaxResponseTime     float64      `json:"max_response_time,omitempty"`
	SuccessCount        int          `json:"success_count"`
	ErrorCount          int          `json:"error_count"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastErrorMessage    string       `json:"last_error_message,omitempty"`

	// Alerting
	AlertOnFailure bool       `json:"alert_on_failure"`
	AlertThreshold int        `json:"alert_threshold"`
	AlertSentAt    *time.Time `json:"alert_sent_at,omitempty"`

	// Lifecycle
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // soft delete
}

// TransformOp is one step of the declarative post-fetch transform pipeline.
// Ops are whitelisted; there is no script execution.
type TransformOp struct {
	Op    string `json:"op"` // "select", "rename", "filter", "limit", "flatten"
	Field string `json:"field,omitempty"`
	To    string `json:"to,omitempty"`
	// Filter parameters
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
	// Select / limit parameters
	Fields []string `json:"fields,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// IsCacheValid reports whether the cached payload is still fresh:
// cache enabled, a payload exists, and now < cached_at + ttl.
func (ds *DataSource) IsCacheValid() bool {
	return ds.isCacheValidAt(time.Now().UTC())
}

func (ds *DataSource) isCacheValidAt(now time.Time) bool {
	if !ds.CacheEnabled || ds.CachedAt == nil {
		return false
	}
	expiry := ds.CachedAt.Add(time.Duration(ds.CacheTTLSeconds) * time.Second)
	return now.Before(expiry)
}

// NeedsRefresh reports whether the scheduler should pick this source up.
func (ds *DataSource) NeedsRefresh() bool {
	if !ds.AutoRefresh || ds.RefreshFrequency <= 0 || ds.RefreshInProgress {
		return false
	}
	if ds.LastRefresh == nil {
		return true
	}
	next := ds.LastRefresh.Add(time.Duration(ds.RefreshFrequency) * time.Second)
	return !time.Now().UTC().Before(next)
}

// SuccessRate is the percentage of successful fetch attempts,
// defined as 100 when no attempts have been made yet.
func (ds *DataSource) SuccessRate() float64 {
	total := ds.SuccessCount + ds.ErrorCount
	if total == 0 {
		return 100.0
	}
	return float64(ds.SuccessCount) / float64(total) * 100.0
}

// HasSchema reports whether schema inference has run.
func (ds *DataSource) HasSchema() bool {
	return ds.Schema != nil && ds.SchemaInferredAt != nil
}

// ScheduleRefresh computes the next refresh time when auto-refresh is on.
// Called on both success and failure: retry-after-failure is automatic.
func (ds *DataSource) ScheduleRefresh() {
	if ds.AutoRefresh && ds.RefreshFrequency > 0 {
		next := time.Now().UTC().Add(time.Duration(ds.RefreshFrequency) * time.Second)
		ds.NextRefresh = &next
	}
}

// RecordSuccess updates health bookkeeping after a successful fetch.
// Resets consecutive failures, marks healthy, folds the response time into
// the smoothed average (new = old*0.7 + sample*0.3) and min/max bounds.
func (ds *DataSource) RecordSuccess(responseTimeMs float64, recordCount int) {
	now := time.Now().UTC()

	ds.SuccessCount++
	ds.ConsecutiveFailures = 0
	ds.LastRefresh = &now
	ds.LastRefreshStatus = string(RefreshSuccess)
	ds.LastErrorMessage = ""
	ds.HealthStatus = HealthHealthy
	ds.HealthCheckedAt = &now
	ds.RefreshInProgress = false

	if responseTimeMs > 0 {
		if ds.AvgResponseTime > 0 {
			ds.AvgResponseTime = ds.AvgResponseTime*0.7 + responseTimeMs*0.3
		} else {
			ds.AvgResponseTime = responseTimeMs
		}
		if ds.MinResponseTime == 0 || responseTimeMs < ds.MinResponseTime {
			ds.MinResponseTime = responseTimeMs
		}
		if responseTimeMs > ds.MaxResponseTime {
			ds.MaxResponseTime = responseTimeMs
		}
	}

	if recordCount >= 0 {
		ds.LastRecordCount = ds.RecordCount
		ds.RecordCount = recordCount
		ds.DataUpdatedAt = &now
	}

	ds.UptimePercentage = ds.SuccessRate()
	ds.ScheduleRefresh()
}

// RecordError updates health bookkeeping after a failed fetch.
// Healthy sources stay healthy until a threshold is crossed: down at 5
// consecutive failures, degraded at 3 or when the success rate drops
// below 80%. The next refresh is scheduled regardless of failure.
//
// Returns true when a failure alert should be dispatched (threshold
// reached and no alert sent within the last hour); the caller owns the
// actual notification.
func (ds *DataSource) RecordError(message string) bool {
	now := time.Now().UTC()

	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}

	ds.ErrorCount++
	ds.ConsecutiveFailures++
	ds.LastRefresh = &now
	ds.LastRefreshStatus = string(RefreshError)
	ds.LastErrorMessage = message
	ds.RefreshInProgress = false

	switch {
	case ds.ConsecutiveFailures >= downFailureThreshold:
		ds.HealthStatus = HealthDown
	case ds.ConsecutiveFailures >= degradedFailureThreshold:
		ds.HealthStatus = HealthDegraded
	case ds.SuccessRate() < degradedSuccessRate:
		ds.HealthStatus = HealthDegraded
	}

	ds.HealthCheckedAt = &now
	ds.UptimePercentage = ds.SuccessRate()
	ds.ScheduleRefresh()

	if ds.AlertOnFailure && ds.AlertThreshold > 0 &&
		ds.ConsecutiveFailures >= ds.AlertThreshold &&
		(ds.AlertSentAt == nil || now.Sub(*ds.AlertSentAt) > alertCooldown) {
		ds.AlertSentAt = &now
		return true
	}
	return false
}

// CacheData stores a fetched payload when caching is enabled.
func (ds *DataSource) CacheData(data any) {
	if !ds.CacheEnabled {
		return
	}
	now := time.Now().UTC()
	ds.CachedData = data
	ds.CachedAt = &now
}

// ClearCache drops the cached payload.
func (ds *DataSource) ClearCache() {
	ds.CachedData = nil
	ds.CachedAt = nil
}

// ApplySchema stores an inference result and its bookkeeping fields.
// Re-running overwrites the previous schema; no history is kept.
func (ds *DataSource) ApplySchema(s *schema.Schema, sample any) {
	if s == nil {
		return
	}
	now := time.Now().UTC()
	ds.Schema = s
	ds.SchemaInferredAt = &now
	ds.ColumnCount = s.ColumnCount()

	if rows, ok := sample.([]map[string]any); ok {
		if len(rows) > 5 {
			rows = rows[:5]
		}
		ds.SampleData = rows
	} else if items, ok := sample.([]any); ok {
		if len(items) > 5 {
			items = items[:5]
		}
		ds.SampleData = items
	} else {
		ds.SampleData = []any{sample}
	}
}

// HealthSnapshot is the read-only health projection for status pages.
type HealthSnapshot struct {
	HealthStatus        HealthStatus `json:"health_status"`
	UptimePercentage    float64      `json:"uptime_percentage"`
	SuccessRate         float64      `json:"success_rate"`
	AvgResponseTime     float64      `json:"avg_response_time"`
	MinResponseTime     float64      `json:"min_response_time"`
	MaxResponseTime     float64      `json:"max_response_time"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastRefresh         *time.Time   `json:"last_refresh,omitempty"`
	LastErrorMessage    string       `json:"last_error_message,omitempty"`
	RefreshInProgress   bool         `json:"refresh_in_progress"`
}

// Snapshot builds the health projection.
func (ds *DataSource) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		HealthStatus:        ds.HealthStatus,
		UptimePercentage:    ds.UptimePercentage,
		SuccessRate:         ds.SuccessRate(),
		AvgResponseTime:     ds.AvgResponseTime,
		MinResponseTime:     ds.MinResponseTime,
		MaxResponseTime:     ds.MaxResponseTime,
		ConsecutiveFailures: ds.ConsecutiveFailures,
		LastRefresh:         ds.LastRefresh,
		LastErrorMessage:    ds.LastErrorMessage,
		RefreshInProgress:   ds.RefreshInProgress,
	}
}
