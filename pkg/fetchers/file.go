package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/formats"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// UploadFetcher reads previously stored local files. It also backs the
// spreadsheet source type and the link fetcher's scratch-file reads.
type UploadFetcher struct{}

// NewUploadFetcher creates an upload fetcher.
func NewUploadFetcher() *UploadFetcher {
	return &UploadFetcher{}
}

// Fetch reads and parses the source's stored file.
func (f *UploadFetcher) Fetch(_ context.Context, ds *models.DataSource) (any, error) {
	if ds.FilePath == "" {
		return nil, fmt.Errorf("%w: no file path configured", apperrors.ErrFileNotFound)
	}
	return f.ReadFile(ds, ds.FilePath)
}

// ReadFile parses a file at an explicit path using the source's format
// settings, resolving "auto" through detection and recording the result
// on the source.
func (f *UploadFetcher) ReadFile(ds *models.DataSource, path string) (any, error) {
	format := ds.DataFormat
	if format == models.FormatAuto {
		detected, mimeType := formats.DetectFile(path, format)
		if detected == "" {
			detected = models.FormatJSON
		}
		ds.DetectedFormat = detected
		ds.MimeType = mimeType
		format = detected
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrConnection, path, err)
	}

	return formats.Parse(format, data)
}
