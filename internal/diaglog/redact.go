package diaglog

import "strings"

// sensitiveFragments mark payload keys whose values never reach the log.
var sensitiveFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"token",
	"password",
	"secret",
	"credential",
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// Redact returns a copy of v with sensitive map values replaced by
// "[REDACTED]". Maps and slices are walked recursively; other values are
// returned as is.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = Redact(child)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = child
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	default:
		return v
	}
}
