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
	"github.com/matwana-io/matwana-engine/pkg/schema"
)

// DataSourceRepository defines data access for data sources.
// Credential fields travel inside the connection_config JSONB blob and are
// already encrypted by the service layer before they reach this package.
type DataSourceRepository interface {
	// Create inserts a new data source. Returns ErrConflict if the
	// reference already exists for the organization.
	Create(ctx context.Context, ds *models.DataSource) error

	// GetByID retrieves a data source by ID within an organization.
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.DataSource, error)

	// GetByReference retrieves a data source by its stable reference slug.
	GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (*models.DataSource, error)

	// List retrieves all non-deleted data sources for an organization.
	List(ctx context.Context, organizationID uuid.UUID, includeInactive bool) ([]*models.DataSource, error)

	// Update persists the full editable state of a data source.
	Update(ctx context.Context, ds *models.DataSource) error

	// UpdateFetchState persists only the refresh, cache, statistics and
	// health columns mutated by a fetch cycle.
	UpdateFetchState(ctx context.Context, ds *models.DataSource) error

	// ClaimRefresh sets refresh_in_progress atomically. Returns false when
	// another worker already holds the claim.
	ClaimRefresh(ctx context.Context, id uuid.UUID) (bool, error)

	// ReleaseRefresh clears refresh_in_progress without touching health
	// state. Used when a claimed refresh aborts before recording an outcome.
	ReleaseRefresh(ctx context.Context, id uuid.UUID) error

	// SoftDelete marks a data source deleted. Returns ErrDataSourceInUse
	// when widgets still reference it.
	SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error

	// ListDue returns active sources whose auto-refresh is overdue, across
	// all organizations. Requires an unscoped tenant connection.
	ListDue(ctx context.Context, limit int) ([]*models.DataSource, error)
}

// connConfig is the JSONB layout of the connection_config column. Auth
// secrets inside it are AES-GCM ciphertext, never plaintext.
type connConfig struct {
	APIEndpoint       string            `json:"api_endpoint,omitempty"`
	APIMethod         string            `json:"api_method,omitempty"`
	APIHeaders        map[string]string `json:"api_headers,omitempty"`
	APIParams         map[string]string `json:"api_params,omitempty"`
	APIBody           string            `json:"api_body,omitempty"`
	APITimeoutSeconds int               `json:"api_timeout_seconds,omitempty"`

	AuthType              string `json:"auth_type,omitempty"`
	AuthUsername          string `json:"auth_username,omitempty"`
	AuthPasswordEncrypted string `json:"auth_password,omitempty"`
	AuthTokenEncrypted    string `json:"auth_token,omitempty"`
	AuthAPIKeyEncrypted   string `json:"auth_api_key,omitempty"`
	AuthHeaderName        string `json:"auth_header_name,omitempty"`
	AuthParamName         string `json:"auth_param_name,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	FileHash string `json:"file_hash,omitempty"`

	DBType              string `json:"db_type,omitempty"`
	DBHost              string `json:"db_host,omitempty"`
	DBPort              int    `json:"db_port,omitempty"`
	DBName              string `json:"db_name,omitempty"`
	DBUsername          string `json:"db_username,omitempty"`
	DBPasswordEncrypted string `json:"db_password,omitempty"`
	DBSchema            string `json:"db_schema,omitempty"`
	DBTable             string `json:"db_table,omitempty"`
	QueryString         string `json:"query_string,omitempty"`
}

func connConfigOf(ds *models.DataSource) ([]byte, error) {
	return json.Marshal(connConfig{
		APIEndpoint:       ds.APIEndpoint,
		APIMethod:         ds.APIMethod,
		APIHeaders:        ds.APIHeaders,
		APIParams:         ds.APIParams,
		APIBody:           ds.APIBody,
		APITimeoutSeconds: ds.APITimeoutSeconds,

		AuthType:              string(ds.AuthType),
		AuthUsername:          ds.AuthUsername,
		AuthPasswordEncrypted: ds.AuthPasswordEncrypted,
		AuthTokenEncrypted:    ds.AuthTokenEncrypted,
		AuthAPIKeyEncrypted:   ds.AuthAPIKeyEncrypted,
		AuthHeaderName:        ds.AuthHeaderName,
		AuthParamName:         ds.AuthParamName,

		FilePath: ds.FilePath,
		FileURL:  ds.FileURL,
		FileSize: ds.FileSize,
		FileHash: ds.FileHash,

		DBType:              ds.DBType,
		DBHost:              ds.DBHost,
		DBPort:              ds.DBPort,
		DBName:              ds.DBName,
		DBUsername:          ds.DBUsername,
		DBPasswordEncrypted: ds.DBPasswordEncrypted,
		DBSchema:            ds.DBSchema,
		DBTable:             ds.DBTable,
		QueryString:         ds.QueryString,
	})
}

func applyConnConfig(ds *models.DataSource, raw []byte) error {
	var cc connConfig
	if err := json.Unmarshal(raw, &cc); err != nil {
		return fmt.Errorf("failed to decode connection config: %w", err)
	}

	ds.APIEndpoint = cc.APIEndpoint
	ds.APIMethod = cc.APIMethod
	ds.APIHeaders = cc.APIHeaders
	ds.APIParams = cc.APIParams
	ds.APIBody = cc.APIBody
	ds.APITimeoutSeconds = cc.APITimeoutSeconds

	ds.AuthType = models.AuthType(cc.AuthType)
	ds.AuthUsername = cc.AuthUsername
	ds.AuthPasswordEncrypted = cc.AuthPasswordEncrypted
	ds.AuthTokenEncrypted = cc.AuthTokenEncrypted
	ds.AuthAPIKeyEncrypted = cc.AuthAPIKeyEncrypted
	ds.AuthHeaderName = cc.AuthHeaderName
	ds.AuthParamName = cc.AuthParamName

	ds.FilePath = cc.FilePath
	ds.FileURL = cc.FileURL
	ds.FileSize = cc.FileSize
	ds.FileHash = cc.FileHash

	ds.DBType = cc.DBType
	ds.DBHost = cc.DBHost
	ds.DBPort = cc.DBPort
	ds.DBName = cc.DBName
	ds.DBUsername = cc.DBUsername
	ds.DBPasswordEncrypted = cc.DBPasswordEncrypted
	ds.DBSchema = cc.DBSchema
	ds.DBTable = cc.DBTable
	ds.QueryString = cc.QueryString
	return nil
}

// dataSourceColumns is the SELECT list matching scanDataSource's order.
const dataSourceColumns = `
	id, organization_id, created_by_id, name, reference, description, tags,
	source_type, data_format, detected_format, mime_type,
	connection_config, data_path, transform,
	schema, schema_inferred_at, column_count, sample_data,
	auto_refresh, refresh_frequency, last_refresh, last_refresh_status,
	next_refresh, refresh_in_progress, task_id,
	cache_enabled, cache_ttl_seconds, cached_data, cached_at,
	record_count, last_record_count, data_size_bytes, data_updated_at,
	health_status, health_checked_at, uptime_percentage,
	avg_response_time, min_response_time, max_response_time,
	success_count, error_count, consecutive_failures, last_error_message,
	alert_on_failure, alert_threshold, alert_sent_at,
	is_active, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataSource(row rowScanner) (*models.DataSource, error) {
	var ds models.DataSource
	var createdBy *uuid.UUID
	var description, detectedFormat, mimeType, dataPath, refreshStatus, taskID, errMsg *string
	var connCfg, transform, schemaJSON, sampleData, cachedData []byte

	err := row.Scan(
		&ds.ID, &ds.OrganizationID, &createdBy, &ds.Name, &ds.Reference, &description, &ds.Tags,
		&ds.SourceType, &ds.DataFormat, &detectedFormat, &mimeType,
		&connCfg, &dataPath, &transform,
		&schemaJSON, &ds.SchemaInferredAt, &ds.ColumnCount, &sampleData,
		&ds.AutoRefresh, &ds.RefreshFrequency, &ds.LastRefresh, &refreshStatus,
		&ds.NextRefresh, &ds.RefreshInProgress, &taskID,
		&ds.CacheEnabled, &ds.CacheTTLSeconds, &cachedData, &ds.CachedAt,
		&ds.RecordCount, &ds.LastRecordCount, &ds.DataSizeBytes, &ds.DataUpdatedAt,
		&ds.HealthStatus, &ds.HealthCheckedAt, &ds.UptimePercentage,
		&ds.AvgResponseTime, &ds.MinResponseTime, &ds.MaxResponseTime,
		&ds.SuccessCount, &ds.ErrorCount, &ds.ConsecutiveFailures, &errMsg,
		&ds.AlertOnFailure, &ds.AlertThreshold, &ds.AlertSentAt,
		&ds.IsActive, &ds.CreatedAt, &ds.UpdatedAt, &ds.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan data source: %w", err)
	}

	if createdBy != nil {
		ds.CreatedByID = *createdBy
	}
	if description != nil {
		ds.Description = *description
	}
	if detectedFormat != nil {
		ds.DetectedFormat = models.DataFormat(*detectedFormat)
	}
	if mimeType != nil {
		ds.MimeType = *mimeType
	}
	if dataPath != nil {
		ds.DataPath = *dataPath
	}
	if refreshStatus != nil {
		ds.LastRefreshStatus = *refreshStatus
	}
	if taskID != nil {
		ds.TaskID = *taskID
	}
	if errMsg != nil {
		ds.LastErrorMessage = *errMsg
	}

	if len(connCfg) > 0 {
		if err := applyConnConfig(&ds, connCfg); err != nil {
			return nil, err
		}
	}
	if len(transform) > 0 {
		if err := json.Unmarshal(transform, &ds.Transform); err != nil {
			return nil, fmt.Errorf("failed to decode transform: %w", err)
		}
	}
	if len(schemaJSON) > 0 {
		var s schema.Schema
		if err := json.Unmarshal(schemaJSON, &s); err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		ds.Schema = &s
	}
	if len(sampleData) > 0 {
		_ = json.Unmarshal(sampleData, &ds.SampleData)
	}
	if len(cachedData) > 0 {
		_ = json.Unmarshal(cachedData, &ds.CachedData)
	}

	return &ds, nil
}

// marshalOrNil returns nil for nil values so the column stays NULL.
func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// dataSourceRepository implements DataSourceRepository using PostgreSQL.
type dataSourceRepository struct{}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository() DataSourceRepository {
	return &dataSourceRepository{}
}

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	if ds.HealthStatus == "" {
		ds.HealthStatus = models.HealthUnknown
	}

	connCfg, err := connConfigOf(ds)
	if err != nil {
		return fmt.Errorf("failed to encode connection config: %w", err)
	}
	transform, err := marshalOrNil(ds.Transform)
	if err != nil {
		return fmt.Errorf("failed to encode transform: %w", err)
	}

	query := `
		INSERT INTO data_sources (
			organization_id, created_by_id, name, reference, description, tags,
			source_type, data_format, connection_config, data_path, transform,
			auto_refresh, refresh_frequency, cache_enabled, cache_ttl_seconds,
			alert_on_failure, alert_threshold, health_status, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		          $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		ds.OrganizationID, nullableUUID(ds.CreatedByID), ds.Name, ds.Reference,
		nullableString(ds.Description), ds.Tags,
		ds.SourceType, ds.DataFormat, connCfg, nullableString(ds.DataPath), transform,
		ds.AutoRefresh, ds.RefreshFrequency, ds.CacheEnabled, ds.CacheTTLSeconds,
		ds.AlertOnFailure, ds.AlertThreshold, ds.HealthStatus, ds.IsActive,
		ds.CreatedAt, ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create data source: %w", err)
	}

	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (*models.DataSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE organization_id = $1 AND id = $2 AND deleted_at IS NULL`

	return scanDataSource(scope.Conn.QueryRow(ctx, query, organizationID, id))
}

func (r *dataSourceRepository) GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (*models.DataSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE organization_id = $1 AND reference = $2 AND deleted_at IS NULL`

	return scanDataSource(scope.Conn.QueryRow(ctx, query, organizationID, reference))
}

func (r *dataSourceRepository) List(ctx context.Context, organizationID uuid.UUID, includeInactive bool) ([]*models.DataSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE organization_id = $1 AND deleted_at IS NULL`
	if !includeInactive {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := scope.Conn.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (r *dataSourceRepository) Update(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	ds.UpdatedAt = time.Now().UTC()

	connCfg, err := connConfigOf(ds)
	if err != nil {
		return fmt.Errorf("failed to encode connection config: %w", err)
	}
	transform, err := marshalOrNil(ds.Transform)
	if err != nil {
		return fmt.Errorf("failed to encode transform: %w", err)
	}
	schemaJSON, err := marshalOrNil(ds.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	sampleData, err := marshalOrNil(ds.SampleData)
	if err != nil {
		return fmt.Errorf("failed to encode sample data: %w", err)
	}

	query := `
		UPDATE data_sources SET
			name = $3, reference = $4, description = $5, tags = $6,
			source_type = $7, data_format = $8, detected_format = $9, mime_type = $10,
			connection_config = $11, data_path = $12, transform = $13,
			schema = $14, schema_inferred_at = $15, column_count = $16, sample_data = $17,
			auto_refresh = $18, refresh_frequency = $19,
			cache_enabled = $20, cache_ttl_seconds = $21,
			alert_on_failure = $22, alert_threshold = $23,
			is_active = $24, updated_at = $25
		WHERE organization_id = $1 AND id = $2 AND deleted_at IS NULL`

	tag, err := scope.Conn.Exec(ctx, query,
		ds.OrganizationID, ds.ID,
		ds.Name, ds.Reference, nullableString(ds.Description), ds.Tags,
		ds.SourceType, ds.DataFormat, nullableString(string(ds.DetectedFormat)), nullableString(ds.MimeType),
		connCfg, nullableString(ds.DataPath), transform,
		schemaJSON, ds.SchemaInferredAt, ds.ColumnCount, sampleData,
		ds.AutoRefresh, ds.RefreshFrequency,
		ds.CacheEnabled, ds.CacheTTLSeconds,
		ds.AlertOnFailure, ds.AlertThreshold,
		ds.IsActive, ds.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) UpdateFetchState(ctx context.Context, ds *models.DataSource) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	cachedData, err := marshalOrNil(ds.CachedData)
	if err != nil {
		return fmt.Errorf("failed to encode cached data: %w", err)
	}
	schemaJSON, err := marshalOrNil(ds.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	sampleData, err := marshalOrNil(ds.SampleData)
	if err != nil {
		return fmt.Errorf("failed to encode sample data: %w", err)
	}

	query := `
		UPDATE data_sources SET
			detected_format = $2, mime_type = $3,
			schema = $4, schema_inferred_at = $5, column_count = $6, sample_data = $7,
			last_refresh = $8, last_refresh_status = $9, next_refresh = $10,
			refresh_in_progress = $11,
			cached_data = $12, cached_at = $13,
			record_count = $14, last_record_count = $15, data_size_bytes = $16,
			data_updated_at = $17,
			health_status = $18, health_checked_at = $19, uptime_percentage = $20,
			avg_response_time = $21, min_response_time = $22, max_response_time = $23,
			success_count = $24, error_count = $25, consecutive_failures = $26,
			last_error_message = $27, alert_sent_at = $28,
			updated_at = now()
		WHERE id = $1`

	tag, err := scope.Conn.Exec(ctx, query,
		ds.ID,
		nullableString(string(ds.DetectedFormat)), nullableString(ds.MimeType),
		schemaJSON, ds.SchemaInferredAt, ds.ColumnCount, sampleData,
		ds.LastRefresh, nullableString(ds.LastRefreshStatus), ds.NextRefresh,
		ds.RefreshInProgress,
		cachedData, ds.CachedAt,
		ds.RecordCount, ds.LastRecordCount, ds.DataSizeBytes,
		ds.DataUpdatedAt,
		ds.HealthStatus, ds.HealthCheckedAt, ds.UptimePercentage,
		ds.AvgResponseTime, ds.MinResponseTime, ds.MaxResponseTime,
		ds.SuccessCount, ds.ErrorCount, ds.ConsecutiveFailures,
		nullableString(ds.LastErrorMessage), ds.AlertSentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update fetch state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) ClaimRefresh(ctx context.Context, id uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE data_sources SET refresh_in_progress = true
		 WHERE id = $1 AND refresh_in_progress = false AND deleted_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim refresh: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *dataSourceRepository) ReleaseRefresh(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx,
		`UPDATE data_sources SET refresh_in_progress = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to release refresh: %w", err)
	}
	return nil
}

func (r *dataSourceRepository) SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	var widgetCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM widgets WHERE data_source_id = $1`, id).Scan(&widgetCount)
	if err != nil {
		return fmt.Errorf("failed to count dependent widgets: %w", err)
	}
	if widgetCount > 0 {
		return fmt.Errorf("%w: %d widget(s) depend on it", apperrors.ErrDataSourceInUse, widgetCount)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE data_sources SET deleted_at = now(), is_active = false, updated_at = now()
		 WHERE organization_id = $1 AND id = $2 AND deleted_at IS NULL`,
		organizationID, id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return tx.Commit(ctx)
}

func (r *dataSourceRepository) ListDue(ctx context.Context, limit int) ([]*models.DataSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE deleted_at IS NULL AND is_active = true
		  AND auto_refresh = true AND refresh_frequency > 0
		  AND refresh_in_progress = false
		  AND (last_refresh IS NULL
		       OR last_refresh + refresh_frequency * interval '1 second' <= now())
		ORDER BY last_refresh NULLS FIRST
		LIMIT $1`

	rows, err := scope.Conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due data sources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
