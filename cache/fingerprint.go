package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// fingerprintPrefixChars is how much of the normalized document text
// goes into the fingerprint hash. Limiting this keeps fingerprinting
// cheap for very long documents while still being specific enough that
// two different articles essentially never collide.
const fingerprintPrefixChars = 10000

var pageNumberLine = regexp.MustCompile(`(?m)^\s*(page\s+)?\d+(\s*/\s*\d+)?\s*$`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint computes the content-addressed cache key for a document's
// full text: lowercase, strip standalone page-number lines, collapse
// whitespace runs, truncate to the first fingerprintPrefixChars
// characters, then SHA-256 the result.
func Fingerprint(fullText string) string {
	normalized := normalize(fullText)
	if len(normalized) > fingerprintPrefixChars {
		normalized = normalized[:fingerprintPrefixChars]
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(text string) string {
	lower := strings.ToLower(text)
	stripped := pageNumberLine.ReplaceAllString(lower, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(stripped, " "))
}
