package fetchers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/formats"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// DocumentFetcher extracts plain text from PDF, DOCX and TXT files.
// Documents are not tabular; the payload is a single record carrying the
// text and a page or paragraph count.
type DocumentFetcher struct{}

// NewDocumentFetcher creates a document fetcher.
func NewDocumentFetcher() *DocumentFetcher {
	return &DocumentFetcher{}
}

// Fetch reads the source's file and extracts its text content.
func (f *DocumentFetcher) Fetch(_ context.Context, ds *models.DataSource) (any, error) {
	if ds.FilePath == "" {
		return nil, fmt.Errorf("%w: no file path configured", apperrors.ErrFileNotFound)
	}

	format := ds.DataFormat
	if format == models.FormatAuto {
		detected, mimeType := formats.DetectFile(ds.FilePath, format)
		ds.DetectedFormat = detected
		ds.MimeType = mimeType
		format = detected
	}

	data, err := os.ReadFile(ds.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, ds.FilePath)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrConnection, ds.FilePath, err)
	}

	switch format {
	case models.FormatPDF:
		return extractPDF(data)
	case models.FormatDOCX:
		return extractDOCX(data)
	case models.FormatTXT:
		return map[string]any{"text": string(data)}, nil
	default:
		return nil, fmt.Errorf("%w: document format %q", apperrors.ErrUnsupportedFormat, format)
	}
}

// extractPDF pulls plain text from every page.
func extractPDF(data []byte) (any, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid PDF: %v", apperrors.ErrParse, err)
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with broken font tables are skipped, not fatal.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return map[string]any{
		"text":  strings.TrimSpace(sb.String()),
		"pages": pages,
	}, nil
}

// extractDOCX reads paragraph text from the main document part.
func extractDOCX(data []byte) (any, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DOCX archive: %v", apperrors.ErrParse, err)
	}

	var doc *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: DOCX missing word/document.xml", apperrors.ErrParse)
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}
	defer rc.Close()

	paragraphs, err := docxParagraphs(rc)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"text":       strings.Join(paragraphs, "\n"),
		"paragraphs": len(paragraphs),
	}, nil
}

// docxParagraphs walks the XML token stream collecting w:t text grouped
// by enclosing w:p elements. A struct decode is too brittle here since
// runs can nest inside hyperlinks and smart tags.
func docxParagraphs(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)

	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	inText := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed DOCX XML: %v", apperrors.ErrParse, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inParagraph {
					if text := strings.TrimSpace(current.String()); text != "" {
						paragraphs = append(paragraphs, text)
					}
					inParagraph = false
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inParagraph && inText {
				current.Write(t)
			}
		}
	}

	return paragraphs, nil
}
