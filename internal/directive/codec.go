package directive

import (
	"encoding/json"
	"strings"
)

// Decoded is the result of splitting one inbound message.
type Decoded struct {
	// Directives holds the structured payloads in segment order.
	Directives []Directive
	// Text is the visible free text: literal segments plus the "message"
	// field of unknown payloads, joined with blank lines in original order.
	Text string
}

// HasDirectives reports whether any structured payload was found.
func (d Decoded) HasDirectives() bool { return len(d.Directives) > 0 }

// segment envelope used to probe a candidate JSON segment.
type envelope struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Decode splits raw on blank-line boundaries and parses each segment.
//
// A segment that is a valid JSON object with a recognized "type" becomes a
// Directive. A valid object with an unrecognized (or absent) type
// contributes only its "message" field to the visible text. Everything else
// is literal text, preserved in original order.
func Decode(raw string) Decoded {
	var out Decoded
	var textParts []string

	for _, seg := range splitSegments(raw) {
		trimmed := strings.TrimSpace(seg)
		if trimmed == "" {
			continue
		}

		if !looksLikeObject(trimmed) {
			textParts = append(textParts, seg)
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
			// Well-formed prose that merely starts with '{'.
			textParts = append(textParts, seg)
			continue
		}

		factory, known := decoders[env.Type]
		if !known {
			// Forward compatibility: surface the message, drop the rest.
			if env.Message != "" {
				textParts = append(textParts, env.Message)
			}
			continue
		}

		d := factory()
		if err := json.Unmarshal([]byte(trimmed), d); err != nil {
			textParts = append(textParts, seg)
			continue
		}
		out.Directives = append(out.Directives, deref(d))
	}

	out.Text = strings.Join(textParts, "\n\n")
	return out
}

// Encode assembles zero or more payloads plus an optional text body into one
// message. It is the structural inverse of Decode: decoding the result
// yields the same payload objects and text.
func Encode(payloads []Directive, text string) (string, error) {
	segments := make([]string, 0, len(payloads)+1)
	for _, p := range payloads {
		seg, err := marshalSegment(p)
		if err != nil {
			return "", err
		}
		segments = append(segments, seg)
	}
	if text != "" {
		segments = append(segments, text)
	}
	return strings.Join(segments, "\n\n"), nil
}

// splitSegments splits on blank lines, tolerating CRLF line endings.
func splitSegments(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.Split(normalized, "\n\n")
}

// looksLikeObject is a cheap pre-filter before attempting a JSON parse.
func looksLikeObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// deref converts the factory's pointer back to the value form so decoded
// directives compare equal to the literals tests construct.
func deref(d Directive) Directive {
	switch v := d.(type) {
	case *RequestManufacturers:
		return *v
	case *RequestModels:
		return *v
	case *RequestVehicles:
		return *v
	case *RequestCategories:
		return *v
	case *RequestArticles:
		return *v
	case *VehicleSelected:
		return *v
	case *CategorySelected:
		return *v
	case *NoStockSignal:
		return *v
	case *InventoryFailedSignal:
		return *v
	case *OpenVehiclePicker:
		return *v
	case *ManufacturersResult:
		return *v
	case *ModelsResult:
		return *v
	case *VehiclesResult:
		return *v
	case *OpenCategoryPicker:
		return *v
	case *CategoriesResult:
		return *v
	case *ArticlesResult:
		return *v
	case *NoArticlesSignal:
		return *v
	case *Error:
		return *v
	default:
		return d
	}
}
