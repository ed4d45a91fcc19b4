// Package tiers implements the Tier Cascade: a field-level router that
// chooses among regex heuristics, a local LLM, a cheap cloud LLM, and a
// premium cloud LLM per field, plus the deterministic tier-0 regex
// extractors the cascade locks fields against.
package tiers

import (
	"regexp"
	"strconv"
	"strings"
)

// RegexResult is a tier-0 extraction: a value plus the heuristic's
// self-reported confidence.
type RegexResult struct {
	Value      string
	Confidence float64
}

// doiPattern matches a DOI in free text (scheme prefix optional).
var doiPattern = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:A-Z0-9]+\b`)

// yearPattern matches a plausible publication year, 1900-2099.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// sampleSizePattern matches "N=12", "n = 12", "N: 12" style markers.
var sampleSizePattern = regexp.MustCompile(`(?i)\bN\s*[:=]\s*(\d+)\b`)

// firstAuthorPattern matches a "Surname et al." or "Surname, I. et al."
// citation-style author marker; the first occurrence anywhere in the
// text is used.
var firstAuthorPattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:-[A-Z][a-z]+)?)(?:,\s*[A-Z]\.)?\s+et al\.?`)

// trialRegistrationPattern matches common clinical-trial registry
// identifier formats (ClinicalTrials.gov, ISRCTN, ChiCTR, ANZCTR).
var trialRegistrationPattern = regexp.MustCompile(`(?i)\b(NCT\d{8}|ISRCTN\d{8}|ChiCTR\d{10}|ACTRN\d{14})\b`)

// ExtractRegexFields runs every tier-0 heuristic against the full,
// unfiltered document text and returns one RegexResult per field key it
// recognizes. Fields it has no heuristic for are simply absent from the
// result; the caller decides whether that field falls through to a
// higher tier.
func ExtractRegexFields(fullText string) map[string]RegexResult {
	out := make(map[string]RegexResult)

	if m := doiPattern.FindString(fullText); m != "" {
		out["doi"] = RegexResult{Value: m, Confidence: 0.97}
	}

	if m := yearPattern.FindString(fullText); m != "" {
		out["year"] = RegexResult{Value: m, Confidence: 0.80}
	}

	if m := sampleSizePattern.FindStringSubmatch(fullText); len(m) == 2 {
		if _, err := strconv.Atoi(m[1]); err == nil {
			out["sample_size"] = RegexResult{Value: m[1], Confidence: 0.92}
		}
	}

	if m := firstAuthorPattern.FindStringSubmatch(fullText); len(m) == 2 {
		out["first_author"] = RegexResult{Value: strings.TrimSpace(m[1]), Confidence: 0.75}
	}

	if m := trialRegistrationPattern.FindString(fullText); m != "" {
		out["trial_registration_id"] = RegexResult{Value: strings.ToUpper(m), Confidence: 0.95}
	}

	return out
}

// Locked returns the subset of regex results whose confidence clears the
// lock threshold. Locked fields are injected into the LLM prompt as
// pre-extracted context and re-asserted into the final result afterward.
func Locked(results map[string]RegexResult, lockThreshold float64) map[string]RegexResult {
	locked := make(map[string]RegexResult)
	for k, v := range results {
		if v.Confidence >= lockThreshold {
			locked[k] = v
		}
	}
	return locked
}
