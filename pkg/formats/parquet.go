package formats

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
)

// parseParquet materializes a parquet payload into rows keyed by leaf
// column name. Only flat schemas are supported; nested groups surface as
// dotted leaf names, which is acceptable for tabular BI feeds.
func parseParquet(data []byte) (any, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid parquet file: %v", apperrors.ErrParse, err)
	}

	columns := leafColumnNames(file.Schema())
	rows := make([]map[string]any, 0, file.NumRows())

	for _, group := range file.RowGroups() {
		reader := group.Rows()
		buf := make([]parquet.Row, 128)
		for {
			n, err := reader.ReadRows(buf)
			for _, row := range buf[:n] {
				record := make(map[string]any, len(columns))
				for _, value := range row {
					col := int(value.Column())
					if col < 0 || col >= len(columns) {
						continue
					}
					record[columns[col]] = parquetValue(value)
				}
				rows = append(rows, record)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = reader.Close()
				return nil, fmt.Errorf("%w: failed to read parquet rows: %v", apperrors.ErrParse, err)
			}
			if n == 0 {
				break
			}
		}
		if err := reader.Close(); err != nil {
			return nil, fmt.Errorf("%w: failed to close parquet reader: %v", apperrors.ErrParse, err)
		}
	}

	return rows, nil
}

// leafColumnNames returns column names in leaf order, dotted for nesting.
func leafColumnNames(s *parquet.Schema) []string {
	var names []string
	var walk func(node parquet.Node, prefix string)
	walk = func(node parquet.Node, prefix string) {
		if node.Leaf() {
			names = append(names, prefix)
			return
		}
		for _, field := range node.Fields() {
			name := field.Name()
			if prefix != "" {
				name = prefix + "." + name
			}
			walk(field, name)
		}
	}
	for _, field := range s.Fields() {
		walk(field, field.Name())
	}
	return names
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return v.String()
	default:
		return v.String()
	}
}
