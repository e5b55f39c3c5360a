package textutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSearchText canonicalises user-visible text for prefix matching:
// Unicode NFC, trimmed, lowercased. Hangul typed as decomposed jamo matches
// its composed form after this.
func NormalizeSearchText(value string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(value)))
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
