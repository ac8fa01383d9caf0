package fetchers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/config"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/formats"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// maxResponseBytes caps API response bodies (64 MiB).
const maxResponseBytes = 64 << 20

// APIFetcher retrieves data from HTTP(S) endpoints with pluggable auth.
type APIFetcher struct {
	cfg    *config.FetcherConfig
	enc    *crypto.CredentialEncryptor
	client *http.Client
	logger *zap.Logger
}

// NewAPIFetcher creates an API fetcher. The shared client carries no
// timeout; per-request timeouts come from the source's clamped setting.
func NewAPIFetcher(cfg *config.FetcherConfig, enc *crypto.CredentialEncryptor, logger *zap.Logger) *APIFetcher {
	return &APIFetcher{
		cfg:    cfg,
		enc:    enc,
		client: &http.Client{},
		logger: logger,
	}
}

// Fetch issues the configured request, parses the body per the source's
// format, and extracts the configured data path if any.
func (f *APIFetcher) Fetch(ctx context.Context, ds *models.DataSource) (any, error) {
	body, contentType, err := f.request(ctx, ds)
	if err != nil {
		return nil, err
	}

	format := ds.DataFormat
	if format == models.FormatAuto {
		detected, mimeType := formats.DetectPayload(body, ds.APIEndpoint, contentType, format)
		if detected == "" {
			// Unknown is not an error; JSON is the safe default for APIs.
			detected = models.FormatJSON
		}
		ds.DetectedFormat = detected
		ds.MimeType = mimeType
		format = detected
	}

	data, err := formats.Parse(format, body)
	if err != nil {
		return nil, err
	}

	if ds.DataPath != "" {
		return ExtractPath(data, ds.DataPath)
	}
	return data, nil
}

// request performs the HTTP exchange and returns body bytes + content type.
func (f *APIFetcher) request(ctx context.Context, ds *models.DataSource) ([]byte, string, error) {
	method := strings.ToUpper(ds.APIMethod)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, "", fmt.Errorf("%w: unsupported HTTP method %q", apperrors.ErrConnection, ds.APIMethod)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ClampTimeout(ds.APITimeoutSeconds))
	defer cancel()

	var bodyReader io.Reader
	if method != http.MethodGet && ds.APIBody != "" {
		bodyReader = strings.NewReader(ds.APIBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, ds.APIEndpoint, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}

	for k, v := range ds.APIHeaders {
		req.Header.Set(k, v)
	}

	query := req.URL.Query()
	for k, v := range ds.APIParams {
		query.Set(k, v)
	}

	if err := injectAuth(req, query, ds, f.enc); err != nil {
		return nil, "", err
	}
	req.URL.RawQuery = query.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading response: %v", apperrors.ErrConnection, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, "", fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrAuthentication, resp.StatusCode, msg)
		}
		return nil, "", fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrConnection, resp.StatusCode, msg)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// injectAuth applies the source's credentials to an outgoing request.
// Decryption failures degrade to "no credential" rather than failing the
// fetch; the remote then rejects the request with a clear auth error.
func injectAuth(req *http.Request, query url.Values, ds *models.DataSource, enc *crypto.CredentialEncryptor) error {
	switch ds.AuthType {
	case models.AuthNone, "":
		return nil
	case models.AuthBasic:
		req.SetBasicAuth(ds.AuthUsername, enc.DecryptOrEmpty(ds.AuthPasswordEncrypted))
	case models.AuthBearer, models.AuthOAuth2:
		req.Header.Set("Authorization", "Bearer "+enc.DecryptOrEmpty(ds.AuthTokenEncrypted))
	case models.AuthAPIKey:
		header := ds.AuthHeaderName
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, enc.DecryptOrEmpty(ds.AuthAPIKeyEncrypted))
	case models.AuthQueryParam:
		param := ds.AuthParamName
		if param == "" {
			param = "api_key"
		}
		query.Set(param, enc.DecryptOrEmpty(ds.AuthAPIKeyEncrypted))
	default:
		return fmt.Errorf("%w: unknown auth type %q", apperrors.ErrAuthentication, ds.AuthType)
	}
	return nil
}
