// Package redact strips secrets and PII from webhook payloads before they
// reach durable storage.
package redact

import (
	"encoding/json"
	"strings"
)

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"card_number":   {},
	"email":         {},
	"password":      {},
	"phone":         {},
	"phone_number":  {},
	"private_key":   {},
	"secret":        {},
	"ssn":           {},
	"token":         {},
}

// JSON returns a copy of the payload with sensitive string fields masked.
// Non-object payloads and invalid JSON come back as an empty object so the
// audit log always stores structured data.
func JSON(payload []byte) []byte {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return []byte("{}")
	}

	masked, err := json.Marshal(maskMap(decoded))
	if err != nil {
		return []byte("{}")
	}
	return masked
}

// Secret masks a credential while keeping a minimal suffix for auditing.
func Secret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

func maskMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		if isSensitive(key) {
			out[key] = maskLeaf(value)
			continue
		}
		out[key] = maskValue(value)
	}
	return out
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return maskMap(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func maskLeaf(value any) any {
	if cast, ok := value.(string); ok {
		return Secret(cast)
	}
	return maskToken
}

func isSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	_, ok := sensitiveKeys[normalized]
	return ok
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
