package services

import (
	"fmt"
	"strings"

	"github.com/matwana-io/matwana-engine/pkg/models"
)

// ApplyTransforms runs the declarative post-fetch pipeline over a payload.
// Ops are whitelisted data reshaping steps; there is no script execution.
// Non-tabular payloads pass through untouched except for "flatten".
func ApplyTransforms(data any, ops []models.TransformOp) (any, error) {
	if len(ops) == 0 {
		return data, nil
	}

	current := data
	for i, op := range ops {
		var err error
		current, err = applyTransform(current, op)
		if err != nil {
			return nil, fmt.Errorf("transform step %d (%s): %w", i, op.Op, err)
		}
	}
	return current, nil
}

func applyTransform(data any, op models.TransformOp) (any, error) {
	switch op.Op {
	case "select":
		return transformSelect(data, op.Fields)
	case "rename":
		return transformRename(data, op.Field, op.To)
	case "filter":
		return transformFilter(data, op.Field, op.Operator, op.Value)
	case "limit":
		return transformLimit(data, op.Limit)
	case "flatten":
		return flattenPayload(data), nil
	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

// asRows normalizes tabular payloads. Returns nil when not tabular.
func asRows(data any) []map[string]any {
	switch v := data.(type) {
	case []map[string]any:
		return v
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil
			}
			rows = append(rows, m)
		}
		return rows
	default:
		return nil
	}
}

func transformSelect(data any, fields []string) (any, error) {
	rows := asRows(data)
	if rows == nil {
		return data, nil
	}
	if len(fields) == 0 {
		return data, nil
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		projected := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := row[f]; ok {
				projected[f] = v
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

func transformRename(data any, from, to string) (any, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("rename requires field and to")
	}
	rows := asRows(data)
	if rows == nil {
		return data, nil
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		renamed := make(map[string]any, len(row))
		for k, v := range row {
			if k == from {
				renamed[to] = v
			} else {
				renamed[k] = v
			}
		}
		out = append(out, renamed)
	}
	return out, nil
}

func transformFilter(data any, field, operator string, value any) (any, error) {
	if field == "" {
		return nil, fmt.Errorf("filter requires field")
	}
	rows := asRows(data)
	if rows == nil {
		return data, nil
	}

	filter := models.Filter{Field: field, Operator: operator, Value: value}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if matchesFilter(row, filter) {
			out = append(out, row)
		}
	}
	return out, nil
}

func transformLimit(data any, limit int) (any, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	rows := asRows(data)
	if rows == nil {
		return data, nil
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// flattenPayload collapses nested maps into dotted keys, one level deep at
// a time until no map values remain.
func flattenPayload(data any) any {
	switch v := data.(type) {
	case map[string]any:
		return flattenMap("", v)
	case []map[string]any:
		out := make([]map[string]any, 0, len(v))
		for _, row := range v {
			out = append(out, flattenMap("", row))
		}
		return out
	case []any:
		rows := asRows(v)
		if rows == nil {
			return v
		}
		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, flattenMap("", row))
		}
		return out
	default:
		return data
	}
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flattenMap(key, nested) {
				out[nk] = nv
			}
		} else {
			out[key] = v
		}
	}
	return out
}

// matchesFilter evaluates one filter clause against a row. Unknown
// operators and missing fields exclude the row.
func matchesFilter(row map[string]any, f models.Filter) bool {
	val, ok := row[f.Field]
	if !ok {
		return false
	}

	switch f.Operator {
	case "equals", "":
		return compareValues(val, f.Value) == 0
	case "not_equals":
		return compareValues(val, f.Value) != 0
	case "greater_than":
		return compareValues(val, f.Value) > 0
	case "less_than":
		return compareValues(val, f.Value) < 0
	case "contains":
		// Case-sensitive, like the other operators.
		return strings.Contains(fmt.Sprintf("%v", val), fmt.Sprintf("%v", f.Value))
	default:
		return false
	}
}

// compareValues orders two loosely typed values: numerically when both
// convert, lexically otherwise. Returns -1, 0 or 1.
func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
