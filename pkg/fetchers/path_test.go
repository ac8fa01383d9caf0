package fetchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
)

func TestExtractPath(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"x": float64(1)},
				map[string]any{"x": float64(2)},
			},
			"total": float64(2),
		},
	}

	tests := []struct {
		name string
		path string
		want any
	}{
		{"nested list", "$.data.items", []any{
			map[string]any{"x": float64(1)},
			map[string]any{"x": float64(2)},
		}},
		{"list index", "$.data.items.1.x", float64(2)},
		{"scalar", "$.data.total", float64(2)},
		{"no dollar prefix", "data.total", float64(2)},
		{"empty path passthrough", "", payload},
		{"bare dollar passthrough", "$", payload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractPath(payload, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPath_Missing(t *testing.T) {
	payload := map[string]any{"data": map[string]any{}}

	_, err := ExtractPath(payload, "$.data.items")
	assert.ErrorIs(t, err, apperrors.ErrPathExtraction)

	_, err = ExtractPath(payload, "$.nope.deeper")
	assert.ErrorIs(t, err, apperrors.ErrPathExtraction)
}
