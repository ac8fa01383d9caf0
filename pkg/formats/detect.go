// Package formats detects and parses the data formats the engine ingests.
package formats

import (
	"bytes"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/matwana-io/matwana-engine/pkg/models"
)

// mimeFormats maps MIME types to data formats.
var mimeFormats = map[string]models.DataFormat{
	"application/json": models.FormatJSON,
	"text/csv":         models.FormatCSV,
	"application/vnd.ms-excel": models.FormatExcel,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": models.FormatExcel,
	"application/xml": models.FormatXML,
	"text/xml":        models.FormatXML,
	"application/pdf": models.FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": models.FormatDOCX,
	"text/plain": models.FormatTXT,
	"text/html":  models.FormatHTML,
}

// extFormats maps file extensions to data formats.
var extFormats = map[string]models.DataFormat{
	".json":    models.FormatJSON,
	".csv":     models.FormatCSV,
	".xlsx":    models.FormatExcel,
	".xls":     models.FormatExcel,
	".xml":     models.FormatXML,
	".parquet": models.FormatParquet,
	".pdf":     models.FormatPDF,
	".docx":    models.FormatDOCX,
	".txt":     models.FormatTXT,
	".html":    models.FormatHTML,
	".htm":     models.FormatHTML,
}

// DetectFile determines the format of a file on disk.
//
// Resolution order: the declared format wins when it is not "auto"; then the
// MIME registry keyed by extension; then the extension map; finally the first
// 8 bytes are sniffed for known signatures. An empty format result means
// "unknown" - the caller decides whether to default or reject.
func DetectFile(path string, declared models.DataFormat) (models.DataFormat, string) {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	if declared != "" && declared != models.FormatAuto {
		return declared, mimeType
	}

	if f, ok := mimeFormats[mimeType]; ok {
		return f, mimeType
	}

	if f, ok := extFormats[strings.ToLower(filepath.Ext(path))]; ok {
		return f, mimeType
	}

	header := make([]byte, 8)
	file, err := os.Open(path)
	if err != nil {
		return "", mimeType
	}
	n, _ := file.Read(header)
	_ = file.Close()

	return DetectSignature(header[:n], path), mimeType
}

// DetectPayload determines the format of an in-memory payload (an HTTP
// response body). contentType is the Content-Type header, name is the URL
// path or filename used for extension hints.
func DetectPayload(payload []byte, name, contentType string, declared models.DataFormat) (models.DataFormat, string) {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)

	if declared != "" && declared != models.FormatAuto {
		return declared, contentType
	}

	if f, ok := mimeFormats[contentType]; ok {
		return f, contentType
	}

	if f, ok := extFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f, contentType
	}

	header := payload
	if len(header) > 8 {
		header = header[:8]
	}
	return DetectSignature(header, name), contentType
}

// DetectSignature inspects leading magic bytes. ZIP containers are
// disambiguated by extension since xlsx, docx and some parquet files all
// start with the same signature.
func DetectSignature(header []byte, name string) models.DataFormat {
	lower := strings.ToLower(name)

	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")):
		switch {
		case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
			return models.FormatExcel
		case strings.HasSuffix(lower, ".docx"):
			return models.FormatDOCX
		case strings.HasSuffix(lower, ".parquet"):
			return models.FormatParquet
		}
		return ""
	case bytes.HasPrefix(header, []byte("PAR1")):
		return models.FormatParquet
	case bytes.HasPrefix(header, []byte("%PDF")):
		return models.FormatPDF
	case bytes.HasPrefix(header, []byte("<?xml")), bytes.HasPrefix(header, []byte("<")):
		return models.FormatXML
	case bytes.HasPrefix(header, []byte("{")), bytes.HasPrefix(header, []byte("[")):
		return models.FormatJSON
	case bytes.ContainsAny(header, ",\t"):
		// Likely CSV/TSV
		return models.FormatCSV
	}
	return ""
}
