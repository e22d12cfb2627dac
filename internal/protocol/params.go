package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// StringParam returns params[key] when it is a non-empty string.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// IntParam reads an integer parameter, returning def when the key is absent.
// JSON numbers must be integral; numeric strings are accepted.
func IntParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, key)
		}
		// int(v) is undefined outside the int64 range.
		if v < -(1<<63) || v >= 1<<63 {
			return 0, fmt.Errorf("%w: %s is out of range", ErrBadRequest, key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, key)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, key)
	}
}

// MapListParam reads a list of objects (e.g. schedule commands).
func MapListParam(params map[string]any, key string) ([]map[string]any, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s is required", ErrBadRequest, key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrBadRequest, key)
	}

	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrBadRequest, key, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// MapParam reads an optional object parameter. Absent yields an empty map.
func MapParam(params map[string]any, key string) (map[string]any, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", ErrBadRequest, key)
	}
	return m, nil
}
