// Package payload formats telemetry rows into the CSV objects the analysis
// pipeline consumes and derives their object keys.
package payload

import (
	"fmt"
	"strings"
	"time"
)

// FallbackIdentifier is used as the key prefix when no participant
// identifier is present in the incoming row.
const FallbackIdentifier = "unknown_user"

// RowCSV renders a header row and one data row as a two-line CSV. Fields are
// comma-joined without quoting; embedded commas would corrupt the framing,
// which the downstream parser tolerates the same way the original pipeline
// did.
func RowCSV(headers, values []string) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(headers, ","))
	b.WriteString("\n")
	b.WriteString(strings.Join(values, ","))
	return []byte(b.String())
}

// SanitizeIdentifier lowercases the identifier and replaces every character
// outside [a-z0-9-] with a single underscore, one per rune regardless of its
// encoded width. An empty identifier maps to FallbackIdentifier.
func SanitizeIdentifier(id string) string {
	if id == "" {
		return FallbackIdentifier
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RowObjectKey builds the object key for a single-row upload:
// <sanitized-identifier>/response_<unix-millis>.csv.
func RowObjectKey(identifier string, t time.Time) string {
	return fmt.Sprintf("%s/response_%d.csv", SanitizeIdentifier(identifier), t.UnixMilli())
}

// SessionObjectKey builds the object key for a whole-session upload:
// <sanitized-identifier>/<session-id>.csv.
func SessionObjectKey(identifier, sessionID string) string {
	return fmt.Sprintf("%s/%s.csv", SanitizeIdentifier(identifier), sessionID)
}
