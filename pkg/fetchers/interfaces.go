// Package fetchers retrieves raw data from configured sources.
package fetchers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/config"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// Fetcher retrieves and parses the payload for one data source.
// Implementations return the parsed data (typically []map[string]any or a
// nested map) or an error wrapping one of the apperrors sentinels.
type Fetcher interface {
	Fetch(ctx context.Context, ds *models.DataSource) (any, error)
}

// Dispatcher routes a data source to the fetcher for its source type.
type Dispatcher struct {
	fetchers map[models.SourceType]Fetcher
}

// NewDispatcher wires the standard fetcher set. The websocket source type
// is declared but has no fetcher; dispatching it fails with
// ErrUnsupportedSourceType.
func NewDispatcher(cfg *config.FetcherConfig, enc *crypto.CredentialEncryptor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	api := NewAPIFetcher(cfg, enc, logger)
	upload := NewUploadFetcher()

	return &Dispatcher{
		fetchers: map[models.SourceType]Fetcher{
			models.SourceAPI:         api,
			models.SourceUpload:      upload,
			models.SourceSpreadsheet: upload,
			models.SourceLink:        NewLinkFetcher(cfg, enc, upload, logger),
			models.SourceDatabase:    NewDatabaseFetcher(enc, logger),
			models.SourceDocument:    NewDocumentFetcher(),
		},
	}
}

// Fetch dispatches to the fetcher registered for the source type.
func (d *Dispatcher) Fetch(ctx context.Context, ds *models.DataSource) (any, error) {
	fetcher, ok := d.fetchers[ds.SourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedSourceType, ds.SourceType)
	}
	return fetcher.Fetch(ctx, ds)
}

// Supports reports whether a fetcher is registered for the source type.
func (d *Dispatcher) Supports(st models.SourceType) bool {
	_, ok := d.fetchers[st]
	return ok
}
