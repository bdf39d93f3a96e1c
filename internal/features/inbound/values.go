package inbound

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// intValue reads an id from a number, a numeric string, a {"value": n} or
// {"id": n} object, or the first element of a list.
func intValue(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return intValue(inner)
		}
		if inner, ok := t["id"]; ok {
			return intValue(inner)
		}
	case []any:
		if len(t) > 0 {
			return intValue(t[0])
		}
	}
	return 0, false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case map[string]any:
		return stringValue(t["value"])
	}
	return ""
}

// primary picks the primary entry of a CRM multi-value field. Lists of
// {"value", "primary"} objects and lists of plain strings are accepted, as is
// a bare value.
func primary(v any) string {
	list, ok := v.([]any)
	if !ok {
		return stringValue(v)
	}
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if p, _ := m["primary"].(bool); p {
				return stringValue(m["value"])
			}
		}
	}
	for _, item := range list {
		if s := stringValue(item); s != "" {
			return s
		}
	}
	return ""
}

// firstID reads the first id of a comma separated list such as "123, 456",
// which the CRM produces when two records are merged.
func firstID(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		head, _, _ := strings.Cut(s, ",")
		return intValue(strings.TrimSpace(head))
	}
	return intValue(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
