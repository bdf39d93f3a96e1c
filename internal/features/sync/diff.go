package sync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go-hermes/internal/connectors"
)

// changed returns the entries of want that differ from remote.
func changed(want, remote connectors.Record) connectors.Record {
	out := connectors.Record{}
	for k, v := range want {
		if normalize(v) != normalize(remote[k]) {
			out[k] = v
		}
	}
	return out
}

// normalize flattens the shapes the remote APIs return so they compare equal
// to what we send: {value: x} objects, lists with a primary entry, numbers in
// any encoding, and nil versus empty.
func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "eE") {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return s
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return normalize(inner)
		}
		if inner, ok := t["id"]; ok {
			return normalize(inner)
		}
	case []any:
		if len(t) == 0 {
			return ""
		}
		for _, item := range t {
			if m, ok := item.(map[string]any); ok && m["primary"] == true {
				return normalize(m)
			}
		}
		return normalize(t[0])
	}
	return fmt.Sprint(v)
}
