package formats

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
	"github.com/matwana-io/matwana-engine/pkg/models"
)

// Parse decodes a payload per the given format into the engine's canonical
// shapes: []map[string]any for tabular formats, nested map[string]any for
// XML/JSON objects, string for plain text.
func Parse(format models.DataFormat, data []byte) (any, error) {
	switch format {
	case models.FormatJSON:
		return parseJSON(data)
	case models.FormatCSV:
		return parseCSV(data)
	case models.FormatXML:
		return ParseXML(data)
	case models.FormatExcel:
		return parseExcel(data)
	case models.FormatParquet:
		return parseParquet(data)
	case models.FormatHTML:
		return parseHTML(data)
	case models.FormatTXT:
		return string(data), nil
	case models.FormatPDF, models.FormatDOCX:
		// Binary document formats go through the document fetcher.
		return nil, fmt.Errorf("%w: %s is a document format", apperrors.ErrUnsupportedFormat, format)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFormat, format)
	}
}

func parseJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", apperrors.ErrParse, err)
	}
	return v, nil
}

// nullMarkers are CSV cell values normalized to an explicit null.
var nullMarkers = map[string]bool{
	"": true, "NA": true, "N/A": true, "NaN": true, "nan": true,
	"null": true, "NULL": true, "None": true,
}

func parseCSV(data []byte) (any, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid CSV: %v", apperrors.ErrParse, err)
	}
	if len(records) == 0 {
		return []map[string]any{}, nil
	}

	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(record) {
				row[name] = nil
				continue
			}
			row[name] = coerceCell(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// coerceCell converts a text cell into nil, bool, float64 or string,
// mirroring how JSON payloads decode so downstream math is uniform.
func coerceCell(s string) any {
	trimmed := strings.TrimSpace(s)
	if nullMarkers[trimmed] {
		return nil
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	switch trimmed {
	case "true", "True", "TRUE":
		return true
	case "false", "False", "FALSE":
		return false
	}
	return s
}

func parseExcel(data []byte) (any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Excel file: %v", apperrors.ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []map[string]any{}, nil
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", apperrors.ErrParse, sheets[0], err)
	}
	if len(records) == 0 {
		return []map[string]any{}, nil
	}

	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(record) {
				row[name] = nil
				continue
			}
			row[name] = coerceCell(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
