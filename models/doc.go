package models

import "time"

// Tolerant field readers for remote documents. Remote data is
// schema-less, so every accessor falls back to a zero value instead of
// failing on a missing or ill-typed field.

func docString(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

func docBool(data map[string]any, key string) bool {
	if value, ok := data[key].(bool); ok {
		return value
	}
	return false
}

func docTime(data map[string]any, key string) time.Time {
	switch value := data[key].(type) {
	case time.Time:
		return value
	case int64:
		return time.UnixMilli(value)
	case float64:
		return time.UnixMilli(int64(value))
	default:
		return time.Time{}
	}
}
