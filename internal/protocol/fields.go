package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"synapse/cli/internal/model"
)

// fields is a lenient view over one JSON object. Hub payloads are loosely
// shaped, so lookups accept several key spellings in priority order.
type fields map[string]json.RawMessage

func parseFields(raw []byte) (fields, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return f, true
}

func (f fields) raw(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := f[k]
		if !ok {
			continue
		}
		if t := bytes.TrimSpace(v); len(t) == 0 || bytes.Equal(t, []byte("null")) {
			continue
		}
		return v, true
	}
	return nil, false
}

func (f fields) obj(keys ...string) (fields, bool) {
	v, ok := f.raw(keys...)
	if !ok {
		return nil, false
	}
	return parseFields(v)
}

func (f fields) str(keys ...string) string {
	for _, k := range keys {
		v, ok := f.raw(k)
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func (f fields) strPtr(keys ...string) *string {
	for _, k := range keys {
		v, ok := f[k]
		if !ok {
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		if s == nil {
			empty := ""
			return &empty
		}
		trimmed := strings.TrimSpace(*s)
		return &trimmed
	}
	return nil
}

func (f fields) int(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := f.raw(k)
		if !ok {
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			return int64(n), true
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func (f fields) boolPtr(keys ...string) *bool {
	for _, k := range keys {
		v, ok := f.raw(k)
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return &b
		}
	}
	return nil
}

func (f fields) strings(keys ...string) []string {
	for _, k := range keys {
		v, ok := f.raw(k)
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			out := make([]string, 0, len(list))
			for _, s := range list {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			return out
		}
		var single string
		if err := json.Unmarshal(v, &single); err == nil && strings.TrimSpace(single) != "" {
			return []string{strings.TrimSpace(single)}
		}
	}
	return nil
}

func (f fields) time(keys ...string) model.Millis {
	for _, k := range keys {
		v, ok := f.raw(k)
		if !ok {
			continue
		}
		var m model.Millis
		if err := json.Unmarshal(v, &m); err == nil && !m.IsZero() {
			return m
		}
	}
	return model.Millis{}
}

func (f fields) list(keys ...string) []fields {
	v, ok := f.raw(keys...)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil
	}
	out := make([]fields, 0, len(items))
	for _, item := range items {
		if obj, ok := parseFields(item); ok {
			out = append(out, obj)
		}
	}
	return out
}
