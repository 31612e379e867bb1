package contextutils

import (
	"strings"
)

// MaskAPIKey keeps the first and last 4 characters of a provider key for log output
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "[EMPTY]"
	}

	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}

	return apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
}
