package fetchers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/config"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// LinkFetcher downloads a remote file to a scratch path and parses it
// through the upload fetcher's file reader. The scratch file is removed
// before returning, success or not.
type LinkFetcher struct {
	cfg    *config.FetcherConfig
	enc    *crypto.CredentialEncryptor
	upload *UploadFetcher
	client *http.Client
	logger *zap.Logger
}

// NewLinkFetcher creates a link fetcher.
func NewLinkFetcher(cfg *config.FetcherConfig, enc *crypto.CredentialEncryptor, upload *UploadFetcher, logger *zap.Logger) *LinkFetcher {
	return &LinkFetcher{
		cfg:    cfg,
		enc:    enc,
		upload: upload,
		client: &http.Client{},
		logger: logger,
	}
}

// Fetch downloads the source's URL and parses the result.
func (f *LinkFetcher) Fetch(ctx context.Context, ds *models.DataSource) (any, error) {
	if ds.FileURL == "" {
		return nil, fmt.Errorf("%w: no file URL configured", apperrors.ErrConnection)
	}

	path, err := f.download(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil {
			f.logger.Warn("failed to remove downloaded scratch file",
				zap.String("path", path), zap.Error(rmErr))
		}
	}()

	return f.upload.ReadFile(ds, path)
}

// download streams the URL body to a temp file and returns its path.
// Streaming keeps memory flat for large exports.
func (f *LinkFetcher) download(ctx context.Context, ds *models.DataSource) (string, error) {
	timeout := time.Duration(f.cfg.DownloadTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.FileURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}

	query := req.URL.Query()
	if err := injectAuth(req, query, ds, f.enc); err != nil {
		return "", err
	}
	req.URL.RawQuery = query.Encode()

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: HTTP %d downloading %s", apperrors.ErrAuthentication, resp.StatusCode, ds.FileURL)
		}
		return "", fmt.Errorf("%w: HTTP %d downloading %s", apperrors.ErrConnection, resp.StatusCode, ds.FileURL)
	}

	// Keep the URL's extension so format detection can use it.
	pattern := "link-*" + filepath.Ext(req.URL.Path)
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("%w: creating scratch file: %v", apperrors.ErrConnection, err)
	}

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: downloading %s: %v", apperrors.ErrConnection, ds.FileURL, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: writing scratch file: %v", apperrors.ErrConnection, err)
	}

	return tmp.Name(), nil
}
