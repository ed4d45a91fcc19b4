// Package filter implements the Content Filter: deterministic, regex-driven
// pruning of non-informative document sections, grounded on the stop-list
// and boilerplate-stripping idiom the reference engine uses for its own
// text-normalization passes.
package filter

import (
	"regexp"
	"strings"

	"github.com/brunobiangulo/scireview/parser"
)

// defaultStopSections are section tags dropped outright: references,
// acknowledgments, funding, conflict-of-interest, author contributions,
// supplementary material.
var defaultStopSections = map[string]bool{
	"references":            true,
	"bibliography":          true,
	"acknowledgments":       true,
	"acknowledgements":      true,
	"funding":               true,
	"conflict of interest":  true,
	"conflicts of interest": true,
	"author contributions":  true,
	"supplementary":         true,
	"supplementary material": true,
}

// boilerplatePatterns match individual lines to drop regardless of section:
// copyright notices, running headers, bare page-number lines.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*©.*$`),
	regexp.MustCompile(`(?i)^\s*copyright\s+\d{4}.*$`),
	regexp.MustCompile(`(?i)^\s*page\s+\d+(\s+of\s+\d+)?\s*$`),
	regexp.MustCompile(`^\s*\d{1,4}\s*$`),
}

// Stats mirrors the Content Filter's statistics record: chars in/out and
// how many sections were dropped.
type Stats struct {
	CharsIn         int
	CharsOut        int
	SectionsDropped int
	Failed          bool
}

// Filter drops non-informative chunks and boilerplate lines. The zero
// value uses the default stop-list.
type Filter struct {
	stopSections map[string]bool
}

// New returns a Filter. A nil or empty extraStop leaves the default
// stop-list untouched; non-empty entries are merged in (case-insensitive).
func New(extraStop []string) *Filter {
	stop := make(map[string]bool, len(defaultStopSections)+len(extraStop))
	for k := range defaultStopSections {
		stop[k] = true
	}
	for _, s := range extraStop {
		stop[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Filter{stopSections: stop}
}

// Apply drops stop-listed chunks and boilerplate lines from chunks. It
// never returns an error: per the failure policy, a filter failure is
// handled by the caller falling back to the unfiltered document, so this
// function is pure and total over its input.
func (f *Filter) Apply(chunks []parser.Chunk) ([]parser.Chunk, Stats) {
	var stats Stats
	kept := make([]parser.Chunk, 0, len(chunks))

	stop := f.stopSections
	if stop == nil {
		stop = defaultStopSections
	}

	for _, c := range chunks {
		stats.CharsIn += len(c.Text)

		if stop[strings.ToLower(strings.TrimSpace(c.SectionTag))] {
			stats.SectionsDropped++
			continue
		}

		cleaned := stripBoilerplate(c.Text)
		if strings.TrimSpace(cleaned) == "" {
			stats.SectionsDropped++
			continue
		}

		c.Text = cleaned
		stats.CharsOut += len(cleaned)
		kept = append(kept, c)
	}

	return kept, stats
}

// stripBoilerplate removes lines matching any boilerplate pattern.
func stripBoilerplate(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		dropped := false
		for _, p := range boilerplatePatterns {
			if p.MatchString(line) {
				dropped = true
				break
			}
		}
		if !dropped {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
