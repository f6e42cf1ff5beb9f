package telemetry

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Document content and file names never leave the process.
var denyKeys = []string{
	"text",
	"content",
	"context",
	"entity",
	"filename",
	"file_name",
	"path",
	"authorization",
	"api_key",
	"token",
	"email",
}

const maxStringAttr = 512

// SafeAttributes drops keys that may carry document content and converts
// the rest to OTEL attributes. Unsupported value types are skipped.
func SafeAttributes(values map[string]interface{}) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	var attrs []attribute.KeyValue
	for k, v := range values {
		if denied(k) {
			continue
		}
		switch val := v.(type) {
		case string:
			if len(val) > maxStringAttr {
				continue
			}
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			if len(val) > 32 {
				val = val[:32]
			}
			attrs = append(attrs, attribute.StringSlice(k, val))
		}
	}
	return attrs
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	for _, bad := range denyKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}
