package logging

import (
	"log/slog"
	"slices"
	"strings"
)

// RedactedValue replaces sensitive field values in log output.
const RedactedValue = "[REDACTED]"

// allowedLogKeys are the only keys MaskField will pass through unmasked.
// Keep the list sorted.
var allowedLogKeys = []string{
	"campaignId",
	"component",
	"env",
	"error",
	"message",
	"method",
	"module",
	"reason",
	"service",
	"severity",
	"timestamp",
}

var allowedLookup = func() map[string]struct{} {
	set := make(map[string]struct{}, len(allowedLogKeys))
	for _, key := range allowedLogKeys {
		set[strings.ToLower(key)] = struct{}{}
	}
	return set
}()

// IsAllowlisted reports whether key may be logged without masking. Matching
// ignores case and surrounding whitespace.
func IsAllowlisted(key string) bool {
	_, ok := allowedLookup[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns a copy of the unmasked key list.
func RedactionAllowlist() []string {
	return slices.Clone(allowedLogKeys)
}

// MaskValue hides any non-empty value. Empty values pass through so absent
// secrets stay visibly absent in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog attribute whose value is masked unless the key is
// allowlisted. The key keeps its original casing.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
