package fetchers

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// maxDatabaseRows bounds how many rows a database source pulls per fetch.
const maxDatabaseRows = 100000

// DatabaseFetcher runs read queries against external PostgreSQL or SQL
// Server databases. Each fetch opens its own connection and closes it
// before returning; sources refresh too rarely to justify pooling.
type DatabaseFetcher struct {
	enc    *crypto.CredentialEncryptor
	logger *zap.Logger
}

// NewDatabaseFetcher creates a database fetcher.
func NewDatabaseFetcher(enc *crypto.CredentialEncryptor, logger *zap.Logger) *DatabaseFetcher {
	return &DatabaseFetcher{enc: enc, logger: logger}
}

// Fetch connects to the configured database, runs the source's query, and
// returns rows as []map[string]any.
func (f *DatabaseFetcher) Fetch(ctx context.Context, ds *models.DataSource) (any, error) {
	driver, dsn, err := f.connString(ds)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, classifyDBError(err)
	}

	query, err := buildQuery(ds)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// connString builds the driver name and DSN for the source's engine.
func (f *DatabaseFetcher) connString(ds *models.DataSource) (string, string, error) {
	password := f.enc.DecryptOrEmpty(ds.DBPasswordEncrypted)

	switch strings.ToLower(ds.DBType) {
	case "postgres", "postgresql":
		port := ds.DBPort
		if port == 0 {
			port = 5432
		}
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			url.QueryEscape(ds.DBUsername), url.QueryEscape(password),
			ds.DBHost, port, ds.DBName)
		return "pgx", dsn, nil
	case "sqlserver", "mssql":
		port := ds.DBPort
		if port == 0 {
			port = 1433
		}
		u := &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(ds.DBUsername, password),
			Host:   fmt.Sprintf("%s:%d", ds.DBHost, port),
		}
		q := url.Values{}
		q.Set("database", ds.DBName)
		u.RawQuery = q.Encode()
		return "sqlserver", u.String(), nil
	default:
		return "", "", fmt.Errorf("%w: database type %q", apperrors.ErrUnsupportedSourceType, ds.DBType)
	}
}

// buildQuery returns the stored query, or a SELECT * over the configured
// table. Stored queries must be reads; anything else is rejected.
func buildQuery(ds *models.DataSource) (string, error) {
	if q := strings.TrimSpace(ds.QueryString); q != "" {
		upper := strings.ToUpper(q)
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			return "", fmt.Errorf("%w: only SELECT queries are allowed", apperrors.ErrConnection)
		}
		return q, nil
	}

	if ds.DBTable == "" {
		return "", fmt.Errorf("%w: no query or table configured", apperrors.ErrConnection)
	}
	table := quoteIdent(ds.DBTable)
	if ds.DBSchema != "" {
		table = quoteIdent(ds.DBSchema) + "." + table
	}
	return fmt.Sprintf("SELECT * FROM %s", table), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// scanRows materializes a result set into maps keyed by column name.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}

	out := make([]map[string]any, 0)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(out) >= maxDatabaseRows {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = normalizeDBValue(values[i])
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDBError(err)
	}
	return out, nil
}

// normalizeDBValue converts driver values to JSON-friendly types.
func normalizeDBValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	default:
		return v
	}
}

// classifyDBError maps driver errors onto the auth/connection sentinels.
// Driver error types differ across engines, so this matches on message.
func classifyDBError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"password authentication", "login failed", "authentication failed", "permission denied"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", apperrors.ErrAuthentication, err)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
}
