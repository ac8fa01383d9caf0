package fetchers

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// buildDOCX assembles a minimal wordprocessing archive on disk.
func buildDOCX(t *testing.T, documentXML string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "doc.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestDocumentFetcher_DOCX(t *testing.T) {
	doc := `<?xml version="1.0"?>
		<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
			<w:body>
				<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
				<w:p><w:hyperlink><w:r><w:t>Linked text</w:t></w:r></w:hyperlink></w:p>
				<w:p></w:p>
			</w:body>
		</w:document>`

	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatDOCX,
		FilePath:   buildDOCX(t, doc),
	}

	data, err := f.Fetch(context.Background(), ds)
	require.NoError(t, err)

	m, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "First paragraph.\nLinked text", m["text"],
		"runs inside hyperlinks are collected; empty paragraphs are dropped")
	assert.Equal(t, 2, m["paragraphs"])
}

func TestDocumentFetcher_DOCX_AutoDetect(t *testing.T) {
	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatAuto,
		FilePath:   buildDOCX(t, `<w:document><w:body><w:p><w:r><w:t>hi</w:t></w:r></w:p></w:body></w:document>`),
	}

	data, err := f.Fetch(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, models.FormatDOCX, ds.DetectedFormat)

	m := data.(map[string]any)
	assert.Equal(t, "hi", m["text"])
}

func TestDocumentFetcher_DOCX_MissingPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("other.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<x/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "broken.docx")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatDOCX,
		FilePath:   path,
	}
	_, err = f.Fetch(context.Background(), ds)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestDocumentFetcher_TXT(t *testing.T) {
	path := writeTempFile(t, "notes.txt", []byte("plain text body"))

	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatTXT,
		FilePath:   path,
	}

	data, err := f.Fetch(context.Background(), ds)
	require.NoError(t, err)

	m := data.(map[string]any)
	assert.Equal(t, "plain text body", m["text"])
}

func TestDocumentFetcher_NoPath(t *testing.T) {
	f := NewDocumentFetcher()
	_, err := f.Fetch(context.Background(), &models.DataSource{SourceType: models.SourceDocument})
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)
}

func TestDocumentFetcher_UnsupportedFormat(t *testing.T) {
	path := writeTempFile(t, "data.csv", []byte("a,b\n1,2\n"))

	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatCSV,
		FilePath:   path,
	}
	_, err := f.Fetch(context.Background(), ds)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestDocumentFetcher_InvalidPDF(t *testing.T) {
	path := writeTempFile(t, "broken.pdf", []byte("%PDF-1.7 but not really"))

	f := NewDocumentFetcher()
	ds := &models.DataSource{
		SourceType: models.SourceDocument,
		DataFormat: models.FormatPDF,
		FilePath:   path,
	}
	_, err := f.Fetch(context.Background(), ds)
	assert.ErrorIs(t, err, apperrors.ErrParse)
}
