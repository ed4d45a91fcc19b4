// Package executor implements the Extraction Executor: the
// validate-retry state machine that turns one parsed document plus a
// target schema into a PipelineResult. Its core logic is expressed once
// as a pure sequence of steps and driven by two different callers: a
// synchronous blocking Run, and a cooperative RunCooperative that
// suspends at every I/O boundary so a host can interleave many
// in-flight documents under its own scheduling.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/brunobiangulo/scireview/cache"
	"github.com/brunobiangulo/scireview/filter"
	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
	"github.com/brunobiangulo/scireview/schemachunk"
	"github.com/brunobiangulo/scireview/tiers"
	"github.com/brunobiangulo/scireview/validator"
)

// Config is the subset of pipeline configuration the executor needs,
// passed in by the root package rather than imported, since the root
// package itself depends on this one.
type Config struct {
	MaxIterations       int
	MaxFieldsPerChunk   int
	ConfidenceThresholdRegex float64
	MaxContextChars     int
	ClassifierThreshold float64
	ProducerVersion     string
	SchemaVersion       string
}

// Executor wires together the collaborators needed to extract one
// document: the content filter, relevance classifier, tier cascade,
// schema chunker, validator, and result cache.
type Executor struct {
	Filter     *filter.Filter
	Classifier *filter.Classifier
	Cascade    *tiers.Cascade
	Checker    *validator.Checker
	Cache      *cache.Store

	Cfg Config

	// buildGroup ensures at-most-one whole-document extraction loop runs
	// at a time per fingerprint+schema-version key, so concurrent Run
	// calls for the same document share one in-flight build instead of
	// each driving their own LLM iterations.
	buildGroup singleflight.Group
}

// notifyFunc is called at every I/O suspension point. The blocking
// driver's notify is a no-op that returns immediately; the cooperative
// driver's notify blocks on a channel handshake with its caller. This
// function is the only difference between the two drivers.
type notifyFunc func(stage string, iteration int) error

// Run executes the extraction synchronously and returns the final
// result.
func (e *Executor) Run(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string) (model.PipelineResult, error) {
	return e.run(ctx, doc, schema, theme, func(string, int) error { return nil })
}

// Stage names reported to notifyFunc / Suspend.Stage.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
	StageValidate = "validate"
	StageCache    = "cache"
)

// Suspend describes one cooperative-suspension point.
type Suspend struct {
	Stage     string
	Iteration int
}

type runOutcome struct {
	result model.PipelineResult
	err    error
}

// Session is a live cooperative-suspension run, driven by repeated
// Next/Resume calls from the caller.
type Session struct {
	suspend chan Suspend
	resume  chan error
	outcome chan runOutcome
}

// RunCooperative starts the extraction in a background goroutine that
// blocks at every I/O suspension point until the caller calls Resume.
// This lets a host multiplex many concurrent extractions under its own
// scheduling policy instead of the Go runtime's goroutine scheduler
// picking interleaving for it.
func (e *Executor) RunCooperative(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string) *Session {
	sess := &Session{
		suspend: make(chan Suspend),
		resume:  make(chan error),
		outcome: make(chan runOutcome, 1),
	}

	notify := func(stage string, iteration int) error {
		sess.suspend <- Suspend{Stage: stage, Iteration: iteration}
		return <-sess.resume
	}

	go func() {
		defer close(sess.suspend)
		res, err := e.run(ctx, doc, schema, theme, notify)
		sess.outcome <- runOutcome{result: res, err: err}
	}()

	return sess
}

// Next blocks until the session suspends at its next I/O boundary. ok
// is false once the run has finished; call Result to retrieve the
// outcome in that case.
func (s *Session) Next() (Suspend, bool) {
	sp, ok := <-s.suspend
	return sp, ok
}

// Resume continues the session past its current suspension point. Pass
// a non-nil err to abort the run at that point.
func (s *Session) Resume(err error) {
	s.resume <- err
}

// Result blocks until the run has finished and returns its outcome.
// Call only after Next has returned ok == false.
func (s *Session) Result() (model.PipelineResult, error) {
	out := <-s.outcome
	return out.result, out.err
}

// run is the shared core: prepare once, then iterate extract/validate
// until the checker passes, recall-boost exhausts itself, or
// MaxIterations is reached.
func (e *Executor) run(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string, notify notifyFunc) (model.PipelineResult, error) {
	start := time.Now()

	prep, filterStats, err := e.prepare(ctx, doc, schema, theme, notify)
	if err != nil {
		return model.PipelineResult{}, fmt.Errorf("executor: prepare: %w", err)
	}

	result := model.PipelineResult{
		Document:    doc.Filename,
		Fingerprint: prep.fingerprint,
		Filter:      filterStats,
	}

	if strings.TrimSpace(prep.contextText) == "" {
		result.Status = model.StatusFailed
		result.Reason = "no relevant chunks"
		return result, nil
	}

	build := func() (model.PipelineResult, error) {
		return e.iterate(ctx, doc, schema, prep, result, notify)
	}

	if e.Cache == nil {
		result, err = build()
		if err != nil {
			return model.PipelineResult{}, err
		}
		slog.Info("executor: extraction complete",
			"document", doc.Filename, "status", result.Status, "elapsed", time.Since(start).Round(time.Millisecond))
		return result, nil
	}

	if err := notify(StageCache, 0); err != nil {
		return model.PipelineResult{}, err
	}
	cacheKey := model.CacheKey{Fingerprint: prep.fingerprint, SchemaVersion: schema.Version, FieldKey: model.WholeDocumentKey}
	if entry, found, err := e.Cache.Get(ctx, cacheKey); err != nil {
		slog.Warn("executor: cache lookup failed, proceeding without cache", "document", doc.Filename, "error", err)
	} else if found && entry.ProducerVersion == e.Cfg.ProducerVersion {
		if values, ok := entry.Value.(map[string]any); ok {
			result.Values = values
			result.Status = model.StatusSuccess
			result.Cached = true
			return result, nil
		}
	}

	// At-most-one in-flight build per document+schema key: concurrent
	// Run calls racing on the same fingerprint share this single
	// extraction loop instead of each driving their own LLM iterations.
	groupKey := prep.fingerprint + "|" + schema.Version
	v, err, _ := e.buildGroup.Do(groupKey, func() (any, error) {
		res, err := build()
		if err != nil {
			return model.PipelineResult{}, err
		}
		if res.Status == model.StatusSuccess {
			if err := e.Cache.RegisterDocument(ctx, prep.fingerprint, doc.Filename, len(doc.FullText)); err != nil {
				slog.Warn("executor: registering document in cache failed", "document", doc.Filename, "error", err)
			} else {
				entry := model.CacheEntry{Value: res.Values, Confidence: res.Checker.OverallScore, Tier: 0, ProducerVersion: e.Cfg.ProducerVersion}
				if err := e.Cache.Put(ctx, cacheKey, entry); err != nil {
					slog.Warn("executor: writing cache entry failed", "document", doc.Filename, "error", err)
				}
			}
		}
		return res, nil
	})
	if err != nil {
		return model.PipelineResult{}, err
	}
	result = v.(model.PipelineResult)

	slog.Info("executor: extraction complete",
		"document", doc.Filename, "status", result.Status, "elapsed", time.Since(start).Round(time.Millisecond))

	return result, nil
}

// iterate runs the extract/validate/recall-boost loop to completion
// starting from base (which already carries the document's identity,
// fingerprint, and filter stats), and returns the filled-in result.
func (e *Executor) iterate(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, prep prepared, base model.PipelineResult, notify notifyFunc) (model.PipelineResult, error) {
	result := base

	maxIterations := e.Cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	requested := map[string]bool{}
	revisionPrompt := ""
	values := map[string]any{}
	var evidence []model.Evidence
	var fieldAudits []model.FieldAudit
	var checkResult model.CheckerResult

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := notify(StageExtract, iteration); err != nil {
			return model.PipelineResult{}, err
		}

		extraction, confidence, tierUsed, cost, err := e.extractChunks(ctx, prep.schemaChunks, prep.contextText, prep.locked, revisionPrompt)
		if err != nil {
			slog.Warn("executor: extraction attempt failed", "document", doc.Filename, "iteration", iteration, "error", err)
			if iteration == maxIterations {
				result.Status = model.StatusPartial
				result.Reason = err.Error()
				return result, nil
			}
			continue
		}

		applyLocks(extraction.Values, confidence, tierUsed, prep.locked)
		values = extraction.Values
		evidence = extraction.Evidence
		fieldAudits = buildFieldAudits(schema, confidence, tierUsed, prep.locked)
		result.EstimatedCost += cost

		if err := notify(StageValidate, iteration); err != nil {
			return model.PipelineResult{}, err
		}

		checkResult, err = e.Checker.Check(ctx, schema, extraction, prep.contextText)
		if err != nil {
			return model.PipelineResult{}, fmt.Errorf("executor: validation: %w", err)
		}

		result.Iterations = append(result.Iterations, model.IterationRecord{
			Iteration:   iteration,
			Accuracy:    checkResult.AccuracyScore,
			Consistency: checkResult.ConsistencyScore,
			Overall:     checkResult.OverallScore,
			IssueCount:  len(checkResult.Issues),
			Suggestions: checkResult.Suggestions,
		})

		missing := recallBoostFields(schema, values, requested)
		if checkResult.Passed && len(missing) == 0 {
			result.Status = model.StatusSuccess
			break
		}
		for _, k := range missing {
			requested[k] = true
		}

		if iteration == maxIterations {
			result.Status = model.StatusPartial
			result.Reason = "max iterations reached without a passing, complete extraction"
			break
		}

		// Each iteration's critique is appended so the next attempt sees
		// the full revision history in order.
		if revisionPrompt != "" {
			revisionPrompt += "\n"
		}
		revisionPrompt += validator.BuildRevisionPrompt(checkResult, missing)
		slog.Info("executor: revision", "document", doc.Filename, "iteration", iteration, "passed", checkResult.Passed, "fields", missing)
	}

	result.Values = values
	result.Evidence = evidence
	result.Checker = checkResult
	result.FieldAudits = fieldAudits

	return result, nil
}

// extractChunks runs the cascade over every schema chunk and merges the
// per-chunk results into one extraction plus per-field confidence/tier
// maps.
func (e *Executor) extractChunks(ctx context.Context, chunks []schemachunk.Chunk, contextText string, locked map[string]tiers.RegexResult, revisionPrompt string) (model.ExtractionWithEvidence, map[string]float64, map[string]int, float64, error) {
	var extractions []model.ExtractionWithEvidence
	var confMaps []map[string]float64
	tierUsed := map[string]int{}
	var cost float64

	for _, c := range chunks {
		res, err := e.Cascade.Run(ctx, c.Schema, contextText, locked, revisionPrompt)
		if err != nil {
			return model.ExtractionWithEvidence{}, nil, nil, 0, err
		}
		extractions = append(extractions, res.Extraction)
		confMaps = append(confMaps, res.Confidence)
		for k, v := range res.TierUsed {
			tierUsed[k] = v
		}
		cost += res.EstimatedCost
	}

	merged := schemachunk.Merge(extractions)
	confidence := schemachunk.MergeConfidence(confMaps)
	return merged, confidence, tierUsed, cost, nil
}

// applyLocks re-asserts every locked field into values/confidence/tier
// unless a strictly higher tier produced it with strictly higher
// confidence than the lock.
func applyLocks(values map[string]any, confidence map[string]float64, tierUsed map[string]int, locked map[string]tiers.RegexResult) {
	for k, lockedVal := range locked {
		existingTier, hasTier := tierUsed[k]
		existingConf := confidence[k]
		if hasTier && existingTier > 0 && existingConf > lockedVal.Confidence {
			continue
		}
		values[k] = lockedVal.Value
		confidence[k] = lockedVal.Confidence
		tierUsed[k] = 0
	}
}

func buildFieldAudits(schema model.Schema, confidence map[string]float64, tierUsed map[string]int, locked map[string]tiers.RegexResult) []model.FieldAudit {
	audits := make([]model.FieldAudit, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		_, isLocked := locked[f.Key]
		tier := tierUsed[f.Key]
		audits = append(audits, model.FieldAudit{
			FieldKey:   f.Key,
			Tier:       tier,
			Confidence: confidence[f.Key],
			Locked:     isLocked,
			Overridden: isLocked && tier > 0,
		})
	}
	return audits
}

// recallBoostFields returns the keys that should be re-requested on the
// next iteration: present in the schema, absent or zero-valued in
// values (excluding a finding field whose status is "not-reported"),
// and not already requested once before.
func recallBoostFields(schema model.Schema, values map[string]any, requested map[string]bool) []string {
	var out []string
	for _, f := range schema.Fields {
		if f.Policy == model.PolicyDerived || f.Policy == model.PolicyHumanReview {
			continue
		}
		if requested[f.Key] {
			continue
		}
		v, present := values[f.Key]
		if needsRecallBoost(f, v, present) {
			out = append(out, f.Key)
		}
	}
	return out
}

func needsRecallBoost(f model.Field, v any, present bool) bool {
	if !present {
		return true
	}
	switch f.Type {
	case model.FieldFinding:
		var status model.FindingStatus
		switch fd := v.(type) {
		case model.Finding:
			status = fd.Status
		case map[string]any:
			s, _ := fd["status"].(string)
			status = model.FindingStatus(s)
		default:
			return true
		}
		if status == model.StatusNotReported {
			return false
		}
		return status == ""
	case model.FieldNumeric:
		switch n := v.(type) {
		case float64:
			return n == 0
		case int:
			return n == 0
		}
		return false
	default:
		s, ok := v.(string)
		if !ok {
			return true
		}
		return strings.TrimSpace(s) == ""
	}
}
