// Package identity normalizes participant identifiers into one canonical
// string form at the data-access boundary. Upstream systems hand us ids in
// several shapes: a bare id string, an expanded profile object left over from
// a populated lookup, or a JSON-serialized form of either. Every other
// component compares identities with plain string equality on the output of
// Resolve; nothing downstream is allowed to re-implement the unwrapping.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedIdentity = errors.New("identity: no id could be extracted")

// Candidate object keys, in priority order.
var idKeys = [...]string{"_id", "id", "userId", "user_id"}

// Resolve extracts the canonical id string from any accepted representation.
//
// Accepted inputs:
//   - string: a bare id, or a JSON object/string embedding one
//   - json.RawMessage / []byte: JSON forms of the above
//   - map[string]any: an expanded profile object carrying an id field
//   - fmt.Stringer: anything that renders to an accepted string form
func Resolve(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", ErrMalformedIdentity
	case string:
		return resolveString(x)
	case json.RawMessage:
		return resolveJSON(x)
	case []byte:
		return resolveJSON(x)
	case map[string]any:
		return resolveObject(x)
	case fmt.Stringer:
		return resolveString(x.String())
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrMalformedIdentity, v)
	}
}

// Equal reports whether two representations resolve to the same identity.
// It is false when either side is malformed.
func Equal(a, b any) bool {
	ca, err := Resolve(a)
	if err != nil {
		return false
	}
	cb, err := Resolve(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func resolveString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMalformedIdentity
	}
	// A serialized object or quoted id; anything else is already canonical.
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, `"`) {
		return resolveJSON([]byte(s))
	}
	return s, nil
}

func resolveJSON(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", ErrMalformedIdentity
	}

	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
		}
		return resolveObject(obj)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return resolveString(s)
	}

	// Unquoted scalar ids (numeric legacy ids) round-trip through the raw text.
	return resolveString(trimmed)
}

func resolveObject(obj map[string]any) (string, error) {
	for _, key := range idKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch id := v.(type) {
		case string:
			if s := strings.TrimSpace(id); s != "" {
				return s, nil
			}
		case float64:
			// JSON numbers decode as float64; legacy ids are integral.
			return fmt.Sprintf("%.0f", id), nil
		}
	}
	return "", ErrMalformedIdentity
}
