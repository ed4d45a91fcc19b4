// Package validator implements the Validator/Self-Critic: evidence-quote
// verification against source text, and LLM-backed accuracy/consistency
// checking of one extraction attempt.
package validator

import (
	"strings"
	"unicode"
)

// jaccard computes the token-overlap similarity of a and b: the size of
// their significant-word-set intersection over the size of their union.
// Returns 0 when either set is empty.
func jaccard(a, b string) float64 {
	wa := significantWords(a)
	wb := significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	intersection := 0
	for w := range wa {
		if wb[w] {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// significantWords lowercases text and splits it on non-letter/non-digit
// boundaries, keeping every token (unlike a stop-word-filtered set, a
// quote-verification match needs short function words too since quotes
// are short verbatim spans, not free prose).
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if w != "" {
			words[w] = true
		}
	}
	return words
}

// VerifyQuote reports whether quote plausibly appears in sourceText: an
// exact substring match always passes; otherwise the quote is checked
// against every sourceText window by fuzzy (Jaccard) token-overlap
// similarity, and the best score is compared against threshold.
func VerifyQuote(quote, sourceText string, threshold float64) (ok bool, score float64) {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return false, 0
	}
	if strings.Contains(strings.ToLower(sourceText), strings.ToLower(quote)) {
		return true, 1.0
	}

	best := 0.0
	for _, window := range slidingWindows(sourceText, len(quote)) {
		if s := jaccard(quote, window); s > best {
			best = s
		}
	}
	return best >= threshold, best
}

// slidingWindows returns overlapping substrings of text, each
// approximately quoteLen runes, stepping by half that length. This
// keeps quote verification independent of sentence boundaries, since
// extracted quotes do not always align with them.
func slidingWindows(text string, quoteLen int) []string {
	if quoteLen <= 0 {
		quoteLen = 80
	}
	step := quoteLen / 2
	if step <= 0 {
		step = 1
	}
	runes := []rune(text)
	if len(runes) <= quoteLen {
		return []string{text}
	}

	var windows []string
	for start := 0; start < len(runes); start += step {
		end := start + quoteLen
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return windows
}
