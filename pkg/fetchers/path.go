package fetchers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
)

// ExtractPath resolves a dotted data path ("$.data.items.1.x") against a
// parsed payload. Integer segments index into lists. A missing segment
// fails with ErrPathExtraction.
func ExtractPath(data any, path string) (any, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "$.")
	trimmed = strings.TrimPrefix(trimmed, "$")
	if trimmed == "" {
		return data, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: payload not addressable: %v", apperrors.ErrPathExtraction, err)
	}

	result := gjson.GetBytes(raw, trimmed)
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrPathExtraction, path)
	}
	return result.Value(), nil
}
