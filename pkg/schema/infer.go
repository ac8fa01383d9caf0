package schema

import (
	"fmt"
	"math"
	"sort"
)

// sampleWindow caps how many records inference examines.
const sampleWindow = 100

// maxSampleValues caps stored per-column example values.
const maxSampleValues = 5

// Infer derives a schema from a data sample. The sample is either a list of
// records or a single record; anything else yields a nil schema. Only the
// first 100 records are examined. Inference is best-effort and never fails.
func Infer(sample any) *Schema {
	rows := normalize(sample)
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > sampleWindow {
		rows = rows[:sampleWindow]
	}

	// Column order follows first appearance across the sample.
	var names []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, k := range freshKeys(row, seen) {
			names = append(names, k)
			seen[k] = true
		}
	}

	columns := make([]Column, 0, len(names))
	for _, name := range names {
		columns = append(columns, inferColumn(name, rows))
	}
	return &Schema{Columns: columns}
}

// normalize coerces the sample into a list of records.
func normalize(sample any) []map[string]any {
	switch v := sample.(type) {
	case []map[string]any:
		return v
	case map[string]any:
		return []map[string]any{v}
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows
	default:
		return nil
	}
}

// freshKeys returns row keys not yet recorded, sorted lexicographically so
// column order is deterministic despite Go's unordered map iteration.
func freshKeys(row map[string]any, seen map[string]bool) []string {
	var fresh []string
	for k := range row {
		if !seen[k] {
			fresh = append(fresh, k)
		}
	}
	sort.Strings(fresh)
	return fresh
}

func inferColumn(name string, rows []map[string]any) Column {
	col := Column{Name: name, SampleValues: []any{}}

	types := make(map[string]bool)
	uniques := make(map[string]bool)

	for _, row := range rows {
		v, present := row[name]
		if !present || v == nil {
			col.Nullable = true
			continue
		}
		types[typeOf(v)] = true
		uniques[fmt.Sprintf("%v", v)] = true
		if len(col.SampleValues) < maxSampleValues {
			col.SampleValues = append(col.SampleValues, v)
		}
	}

	col.UniqueCount = len(uniques)
	col.Type = mergeTypes(types)
	return col
}

// typeOf classifies a single value.
func typeOf(v any) string {
	switch x := v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32:
		if float64(x) == math.Trunc(float64(x)) {
			return "integer"
		}
		return "float"
	case float64:
		// JSON numbers always decode as float64; whole values read as integers.
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return "integer"
		}
		return "float"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "string"
	}
}

// mergeTypes collapses the per-value types into one column type.
// integer+float widens to float; any other mix is reported as mixed.
func mergeTypes(types map[string]bool) string {
	switch len(types) {
	case 0:
		return "null"
	case 1:
		for t := range types {
			return t
		}
	case 2:
		if types["integer"] && types["float"] {
			return "float"
		}
	}
	return "mixed"
}
