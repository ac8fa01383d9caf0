package formats

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/matwana-io/matwana-engine/pkg/apperrors"
)

// ParseXML converts an XML document into a nested map: attributes are
// hoisted into the mapping, repeated child tags collapse into a slice,
// and an element with only text content becomes a scalar string. Mixed
// content keeps its text under "_text".
func ParseXML(data []byte) (any, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty XML document", apperrors.ErrParse)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: invalid XML: %v", apperrors.ErrParse, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			v, err := decodeElement(decoder, start)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid XML: %v", apperrors.ErrParse, err)
			}
			return v, nil
		}
	}
}

// decodeElement consumes tokens up to the element's end tag.
func decodeElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	result := make(map[string]any)
	for _, attr := range start.Attr {
		result[attr.Name.Local] = attr.Value
	}

	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(decoder, t)
			if err != nil {
				return nil, err
			}
			appendChild(result, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if trimmed != "" {
				if len(result) == 0 {
					return trimmed, nil
				}
				result["_text"] = trimmed
			}
			return result, nil
		}
	}
}

// appendChild inserts a child value, collapsing repeated tags into a slice.
func appendChild(parent map[string]any, tag string, child any) {
	existing, ok := parent[tag]
	if !ok {
		parent[tag] = child
		return
	}
	if list, ok := existing.([]any); ok {
		parent[tag] = append(list, child)
		return
	}
	parent[tag] = []any{existing, child}
}
