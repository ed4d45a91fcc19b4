package executor

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/scireview/cache"
	"github.com/brunobiangulo/scireview/filter"
	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
	"github.com/brunobiangulo/scireview/schemachunk"
	"github.com/brunobiangulo/scireview/tiers"
)

// maxClassifierConcurrency bounds how many chunks are scored against the
// Relevance Classifier's LLM at once per document.
const maxClassifierConcurrency = 8

// prepared is the output of the pure prepare step: everything the
// iterate loop needs, computed once per document regardless of how many
// extraction/revision iterations follow.
type prepared struct {
	fingerprint  string
	contextText  string
	locked       map[string]tiers.RegexResult
	schemaChunks []schemachunk.Chunk
}

// prepare computes the document fingerprint, runs tier-0 regex
// extraction and field locking, filters and classifies the document's
// chunks down to schema-relevant content, and splits the schema into
// chunker-sized sub-schemas. It performs the classifier's LLM calls
// (the run's only I/O before the extraction loop begins), so it
// notifies at StageClassify around that work.
func (e *Executor) prepare(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string, notify notifyFunc) (prepared, model.FilterStats, error) {
	fingerprint := fingerprintText(doc.FullText)

	regexResults := tiers.ExtractRegexFields(doc.FullText)
	lockThreshold := e.Cfg.ConfidenceThresholdRegex
	if lockThreshold <= 0 {
		lockThreshold = 0.9
	}
	locked := tiers.Locked(regexResults, lockThreshold)

	stats := model.FilterStats{}

	filteredChunks, fstats := applyFilter(e, doc.Chunks)
	kept := filteredChunks
	stats.CharsIn = fstats.CharsIn
	stats.CharsOut = fstats.CharsOut
	stats.SectionsDropped = fstats.SectionsDropped
	stats.FilterFailed = fstats.Failed

	if err := notify(StageClassify, 0); err != nil {
		return prepared{}, stats, err
	}

	relevant, classifierFailed := classifyChunks(ctx, e, kept, theme, schema.FieldKeys())
	stats.ChunksKept = len(relevant)
	stats.ChunksDropped = len(kept) - len(relevant)
	stats.ClassifierFailed = classifierFailed

	contextText := buildContext(relevant, e.Cfg.MaxContextChars)

	chunks := schemachunk.Split(schema, e.Cfg.MaxFieldsPerChunk)

	return prepared{
		fingerprint:  fingerprint,
		contextText:  contextText,
		locked:       locked,
		schemaChunks: chunks,
	}, stats, nil
}

// fingerprintText delegates to the cache package's content-addressing
// normalization so the executor and the cache agree on one document
// identity without the executor reimplementing the rules.
func fingerprintText(fullText string) string {
	return cache.Fingerprint(fullText)
}

func applyFilter(e *Executor, chunks []parser.Chunk) ([]parser.Chunk, filter.Stats) {
	if e.Filter == nil {
		return chunks, filter.Stats{}
	}
	return e.Filter.Apply(chunks)
}

// classifyChunks scores every chunk for relevance and keeps those that
// clear the classifier's threshold. If the classifier is unconfigured
// or a chunk's call fails, the chunk is kept conservatively rather than
// silently dropped.
func classifyChunks(ctx context.Context, e *Executor, chunks []parser.Chunk, theme string, fieldKeys []string) ([]parser.Chunk, bool) {
	if e.Classifier == nil {
		return chunks, false
	}

	type scored struct {
		keep   bool
		failed bool
	}
	results := make([]scored, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxClassifierConcurrency)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			verdict, err := e.Classifier.Classify(gctx, c, theme, fieldKeys)
			if err != nil {
				slog.Warn("executor: classifier call failed, keeping chunk conservatively", "error", err)
				results[i] = scored{keep: true, failed: true}
				return nil // a single chunk's classifier failure never aborts the others
			}
			results[i] = scored{keep: e.Classifier.Keep(verdict)}
			return nil
		})
	}
	_ = g.Wait()

	var kept []parser.Chunk
	failed := false
	for i, r := range results {
		if r.failed {
			failed = true
		}
		if r.keep {
			kept = append(kept, chunks[i])
		}
	}
	return kept, failed
}

func buildContext(chunks []parser.Chunk, maxChars int) string {
	var b strings.Builder
	for _, c := range chunks {
		if maxChars > 0 && b.Len() >= maxChars {
			break
		}
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	text := b.String()
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}
