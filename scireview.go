// Package scireview turns scientific article PDFs into structured,
// evidence-backed tabular data for systematic review and meta-analysis.
// It routes each schema field through a regex/local-LLM/cheap-cloud/
// premium-cloud tier cascade, verifies every claimed value against a
// quoted source span, and revises its own output when validation fails.
package scireview

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/scireview/cache"
	"github.com/brunobiangulo/scireview/executor"
	"github.com/brunobiangulo/scireview/filter"
	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
	"github.com/brunobiangulo/scireview/tiers"
	"github.com/brunobiangulo/scireview/validator"
)

// Pipeline is the main entry point: the Pipeline Orchestrator that
// wires the content filter, relevance classifier, tier cascade,
// validator, and result cache together behind one Extract call.
type Pipeline struct {
	cfg     Config
	exec    *executor.Executor
	cacheDB *cache.Store
}

// New builds a Pipeline from cfg, opening its LLM provider connections
// and result cache. The returned Pipeline owns the cache's database
// handle; call Close when done.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	local, err := optionalProvider(cfg.LocalTier)
	if err != nil {
		return nil, newPipelineError(KindConfigurationError, fmt.Errorf("local tier: %w", err))
	}
	cheap, err := optionalProvider(cfg.CheapTier)
	if err != nil {
		return nil, newPipelineError(KindConfigurationError, fmt.Errorf("cheap tier: %w", err))
	}
	premium, err := optionalProvider(cfg.PremiumTier)
	if err != nil {
		return nil, newPipelineError(KindConfigurationError, fmt.Errorf("premium tier: %w", err))
	}

	var cacheDB *cache.Store
	if cfg.CachePath != "" {
		cacheDB, err = cache.New(cfg.CachePath)
		if err != nil {
			return nil, newPipelineError(KindCacheCorruption, err)
		}
	}

	classifierProvider := cheap
	classifierModel := cfg.CheapTier.Model
	if cfg.HybridMode && local != nil {
		classifierProvider = local
		classifierModel = cfg.LocalTier.Model
	}

	p := &Pipeline{
		cfg:     cfg,
		cacheDB: cacheDB,
		exec: &executor.Executor{
			Filter:     filter.New(nil),
			Classifier: filter.NewClassifier(classifierProvider, classifierModel, cfg.ClassifierRelevanceThreshold),
			Cascade: &tiers.Cascade{
				Local:                    local,
				Cheap:                    cheap,
				Premium:                  premium,
				LocalModel:               cfg.LocalTier.Model,
				CheapModel:               cfg.CheapTier.Model,
				PremiumModel:             cfg.PremiumTier.Model,
				HybridMode:               cfg.HybridMode,
				LocalThreshold:           cfg.ConfidenceThresholdLocal,
				CheapThreshold:           cfg.ConfidenceThresholdCheap,
				PremiumThreshold:         cfg.ConfidenceThresholdPremium,
				FieldRouting:             routingOverrides(cfg.FieldRouting),
				AutoApproveCostThreshold: cfg.AutoApproveCostThreshold,
			},
			Checker: &validator.Checker{
				Chat:                premium,
				Model:               cfg.PremiumTier.Model,
				FuzzyQuoteThreshold: cfg.FuzzyQuoteThreshold,
				AccuracyWeight:      cfg.AccuracyWeight,
				ConsistencyWeight:   cfg.ConsistencyWeight,
				ScoreThreshold:      cfg.ScoreThreshold,
				QualityAuditPenalty: cfg.QualityAuditPenalty,
			},
			Cache: cacheDB,
			Cfg: executor.Config{
				MaxIterations:            cfg.MaxIterations,
				MaxFieldsPerChunk:        cfg.MaxFieldsPerChunk,
				ConfidenceThresholdRegex: cfg.ConfidenceThresholdRegex,
				MaxContextChars:          cfg.MaxContextChars,
				ClassifierThreshold:      cfg.ClassifierRelevanceThreshold,
				ProducerVersion:          cfg.ProducerVersion,
			},
		},
	}

	return p, nil
}

// SetHybridMode toggles two-pass local-then-cloud escalation on or off
// for subsequent Extract calls.
func (p *Pipeline) SetHybridMode(enabled bool) {
	p.cfg.HybridMode = enabled
	p.exec.Cascade.HybridMode = enabled
}

// Extract runs the full pipeline against one parsed document and
// schema, blocking until the result is ready.
func (p *Pipeline) Extract(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string) (model.PipelineResult, error) {
	if doc == nil || strings.TrimSpace(doc.FullText) == "" {
		return model.PipelineResult{}, newPipelineError(KindInvalidInput, fmt.Errorf("%w: nil or empty document", ErrInvalidInput))
	}
	if len(schema.Fields) == 0 {
		// A schema with no fields is trivially satisfied: nothing to
		// extract, no LLM call issued.
		return model.PipelineResult{
			Document: doc.Filename,
			Values:   map[string]any{},
			Status:   model.StatusSuccess,
		}, nil
	}
	return p.exec.Run(ctx, doc, schema, theme)
}

// ExtractCooperative starts the same extraction as Extract but returns
// an *executor.Session that suspends at every I/O boundary, letting the
// caller interleave many in-flight documents under its own scheduling
// instead of one goroutine per document.
func (p *Pipeline) ExtractCooperative(ctx context.Context, doc *parser.ParsedDocument, schema model.Schema, theme string) *executor.Session {
	return p.exec.RunCooperative(ctx, doc, schema, theme)
}

// Close releases the pipeline's result cache handle.
func (p *Pipeline) Close() error {
	if p.cacheDB != nil {
		return p.cacheDB.Close()
	}
	return nil
}

func optionalProvider(tc TierConfig) (llm.Provider, error) {
	if tc.Provider == "" {
		return nil, nil
	}
	return llm.NewProvider(llm.Config{
		Provider: tc.Provider,
		Model:    tc.Model,
		BaseURL:  tc.BaseURL,
		APIKey:   tc.APIKey,
	})
}

func routingOverrides(fieldRouting map[string]int) map[string]tiers.Level {
	if len(fieldRouting) == 0 {
		return nil
	}
	out := make(map[string]tiers.Level, len(fieldRouting))
	for k, v := range fieldRouting {
		out[k] = tiers.Level(v)
	}
	return out
}
