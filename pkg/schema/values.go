package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	gojson "github.com/goccy/go-json"
)

// Value validators are lenient: a value that cannot be coerced yields
// ok == false and is loaded as NULL.

// IsEmpty reports nil, "" and zero-length collections.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// ValidateString returns v as a trimmed string. Objects and arrays are
// rendered as JSON.
func ValidateString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(val), true
	case map[string]any, []any:
		encoded, err := gojson.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	case fmt.Stringer:
		return strings.TrimSpace(val.String()), true
	default:
		return strings.TrimSpace(fmt.Sprint(val)), true
	}
}

// ValidateInt coerces v to int64. Floats are truncated; strings must hold an
// integer.
func ValidateInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, false
		}
		return int64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i, err == nil
	case interface{ Int64() (int64, error) }:
		i, err := val.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// ValidateFloat coerces v to float64.
func ValidateFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValidateDict returns v when it is an object.
func ValidateDict(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime accepts a time.Time or an ISO-8601 string.
func ParseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Conform coerces row to s: only fields declared in s are kept, each value is
// validated for its column type and nested records are conformed
// recursively. Values that fail validation become nil.
func Conform(s bigquery.Schema, row map[string]any) map[string]any {
	out := make(map[string]any, len(s))
	for _, field := range s {
		value, present := row[field.Name]
		if !present || value == nil {
			out[field.Name] = nil
			continue
		}
		if field.Repeated {
			items, ok := value.([]any)
			if !ok {
				out[field.Name] = nil
				continue
			}
			conformed := make([]any, 0, len(items))
			for _, item := range items {
				if c := conformValue(field, item); c != nil {
					conformed = append(conformed, c)
				}
			}
			out[field.Name] = conformed
			continue
		}
		out[field.Name] = conformValue(field, value)
	}
	return out
}

func conformValue(field *bigquery.FieldSchema, v any) any {
	switch field.Type {
	case bigquery.IntegerFieldType:
		if i, ok := ValidateInt(v); ok {
			return i
		}
	case bigquery.FloatFieldType:
		if f, ok := ValidateFloat(v); ok {
			return f
		}
	case bigquery.StringFieldType:
		if s, ok := ValidateString(v); ok {
			return s
		}
	case bigquery.BooleanFieldType:
		if b, ok := v.(bool); ok {
			return b
		}
	case bigquery.TimestampFieldType:
		if t, ok := ParseTime(v); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	case bigquery.DateTimeFieldType:
		if t, ok := ParseTime(v); ok {
			return t.Format("2006-01-02T15:04:05.999999")
		}
	case bigquery.DateFieldType:
		if t, ok := ParseTime(v); ok {
			return t.Format("2006-01-02")
		}
	case bigquery.RecordFieldType:
		if m, ok := ValidateDict(v); ok && !IsEmpty(m) {
			return Conform(field.Schema, m)
		}
	default:
		return v
	}
	return nil
}
