// Package schema derives column metadata from fetched data samples.
package schema

// Column describes one inferred column.
type Column struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // "string", "integer", "float", "boolean", "object", "array", "null", "mixed"
	Nullable     bool   `json:"nullable"`
	UniqueCount  int    `json:"unique_count"`
	SampleValues []any  `json:"sample_values"`
}

// Schema is the stored description of a data source's shape.
type Schema struct {
	Columns []Column `json:"columns"`
}

// ColumnCount returns the number of inferred columns.
func (s *Schema) ColumnCount() int {
	if s == nil {
		return 0
	}
	return len(s.Columns)
}
