package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Fields holds the named values of a document.
type Fields map[string]interface{}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for key, value := range f {
		out[key] = value
	}
	return out
}

// String returns the string stored under key, or "".
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the integer stored under key. Missing or non-numeric values yield 0.
func (f Fields) Int64(key string) int64 {
	switch v := f[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if fl, err := v.Float64(); err == nil {
			return int64(fl)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Time returns the timestamp stored under key. The boolean is false when the
// field is missing, nil or still carries the ServerTimestamp sentinel.
func (f Fields) Time(key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	default:
		return time.Time{}, false
	}
}

const timestampKey = "$ts"

// encodeFields serialises fields to JSON. Timestamps are tagged so they decode
// back to time.Time instead of strings.
func encodeFields(fields Fields) ([]byte, error) {
	tagged := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case time.Time:
			tagged[key] = map[string]int64{timestampKey: v.UTC().UnixNano()}
		case serverTimestamp:
			return nil, fmt.Errorf("field %q: unresolved server timestamp", key)
		default:
			tagged[key] = v
		}
	}
	return json.Marshal(tagged)
}

func decodeFields(raw []byte) (Fields, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var tagged map[string]interface{}
	if err := decoder.Decode(&tagged); err != nil {
		return nil, fmt.Errorf("decode document fields: %w", err)
	}

	fields := make(Fields, len(tagged))
	for key, value := range tagged {
		if nested, ok := value.(map[string]interface{}); ok && len(nested) == 1 {
			if ts, ok := nested[timestampKey].(json.Number); ok {
				nanos, err := ts.Int64()
				if err != nil {
					return nil, fmt.Errorf("field %q: invalid timestamp: %w", key, err)
				}
				fields[key] = time.Unix(0, nanos).UTC()
				continue
			}
		}
		fields[key] = value
	}
	return fields, nil
}
