package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB is a free-form JSON object column (report content). It scans from the
// jsonb/json/text representations used by PostgreSQL, MySQL and SQLite.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	if len(raw) == 0 {
		*j = nil
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	// MySQL rows written by older clients may hold a JSON string that itself encodes the object.
	if s, ok := decoded.(string); ok {
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return err
		}
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		*j = nil
		return nil
	}
	*j = obj
	return nil
}

// Object returns the nested object stored under key, or nil.
func (j JSONB) Object(key string) JSONB {
	if j == nil {
		return nil
	}
	if m, ok := j[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// Lookup walks nested objects along path.
func (j JSONB) Lookup(path ...string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(j)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok || m == nil {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path rendered as a string; numbers are formatted
// without a trailing ".0". Missing, null and object values yield "", false.
func (j JSONB) String(path ...string) (string, bool) {
	v, ok := j.Lookup(path...)
	if !ok {
		return "", false
	}
	return Stringify(v)
}

// Float returns the numeric value at path, accepting numeric strings.
func (j JSONB) Float(path ...string) (float64, bool) {
	v, ok := j.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Stringify renders scalar JSON values as strings.
func Stringify(v interface{}) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s)), true
		}
		return fmt.Sprintf("%g", s), true
	case bool, int, int64, json.Number:
		return fmt.Sprint(s), true
	default:
		return "", false
	}
}
