package scireview

import "fmt"

// TierConfig configures a single LLM-backed tier of the cascade.
type TierConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, groq, openai, lmstudio, openrouter, xai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// Config holds all configuration recognized by the extraction pipeline.
// Every row of the configuration-surface contract has a field here.
type Config struct {
	// MaxIterations bounds the validator revision loop per document.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// ScoreThreshold is the minimum overall validator score to accept an
	// extraction.
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`

	// HybridMode enables the two-pass local-then-cloud tier cascade.
	HybridMode bool `json:"hybrid_mode" yaml:"hybrid_mode"`

	// MaxFieldsPerChunk is the Schema Chunker's split point.
	MaxFieldsPerChunk int `json:"max_fields_per_chunk" yaml:"max_fields_per_chunk"`

	// Per-tier accept thresholds.
	ConfidenceThresholdRegex   float64 `json:"confidence_threshold_regex" yaml:"confidence_threshold_regex"`
	ConfidenceThresholdLocal   float64 `json:"confidence_threshold_local" yaml:"confidence_threshold_local"`
	ConfidenceThresholdCheap   float64 `json:"confidence_threshold_cheap" yaml:"confidence_threshold_cheap"`
	ConfidenceThresholdPremium float64 `json:"confidence_threshold_premium" yaml:"confidence_threshold_premium"`

	// QualityAuditPenalty is the score multiplier applied when the
	// evidence audit fails for a field that requires a quote.
	QualityAuditPenalty float64 `json:"quality_audit_penalty" yaml:"quality_audit_penalty"`

	// MaxContextChars bounds the prepared context size handed to the LLM.
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`

	// FuzzyQuoteThreshold is the Jaccard similarity threshold for
	// evidence-quote verification.
	FuzzyQuoteThreshold float64 `json:"fuzzy_quote_threshold" yaml:"fuzzy_quote_threshold"`

	// FieldRouting overrides the default tier for specific field keys.
	FieldRouting map[string]int `json:"field_routing" yaml:"field_routing"`

	// AutoApproveCostThreshold is the maximum estimated cost for an
	// unattended premium-tier call before the caller must intervene.
	AutoApproveCostThreshold float64 `json:"auto_approve_cost_threshold" yaml:"auto_approve_cost_threshold"`

	// ClassifierRelevanceThreshold is the minimum per-chunk relevance
	// score the Relevance Classifier requires to keep a chunk.
	ClassifierRelevanceThreshold float64 `json:"classifier_relevance_threshold" yaml:"classifier_relevance_threshold"`

	// AccuracyWeight / ConsistencyWeight combine into the validator's
	// overall score: overall = accuracy*w_acc + consistency*w_con.
	AccuracyWeight    float64 `json:"accuracy_weight" yaml:"accuracy_weight"`
	ConsistencyWeight float64 `json:"consistency_weight" yaml:"consistency_weight"`

	// Tiers 1-3 of the cascade. Tier 0 (regex) has no LLM config.
	LocalTier   TierConfig `json:"local_tier" yaml:"local_tier"`
	CheapTier   TierConfig `json:"cheap_tier" yaml:"cheap_tier"`
	PremiumTier TierConfig `json:"premium_tier" yaml:"premium_tier"`

	// CachePath is the SQLite database file backing the Result Cache.
	// Empty disables the Result Cache entirely.
	CachePath string `json:"cache_path" yaml:"cache_path"`

	// ProducerVersion identifies the extraction-logic version; a change
	// invalidates every cache entry whose field was produced by an
	// earlier version.
	ProducerVersion string `json:"producer_version" yaml:"producer_version"`
}

// DefaultConfig returns a Config with sensible, conservative defaults:
// hybrid mode on, tier 1 local via ollama, tier 2 cheap via groq, tier 3
// premium via openai.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     3,
		ScoreThreshold:    0.75,
		HybridMode:        true,
		MaxFieldsPerChunk: 25,

		ConfidenceThresholdRegex:   0.90,
		ConfidenceThresholdLocal:   0.85,
		ConfidenceThresholdCheap:   0.80,
		ConfidenceThresholdPremium: 0.0, // always accepted

		QualityAuditPenalty: 0.8,
		MaxContextChars:     24000,
		FuzzyQuoteThreshold: 0.6,

		AutoApproveCostThreshold: 0.50,

		ClassifierRelevanceThreshold: 0.4,

		AccuracyWeight:    0.6,
		ConsistencyWeight: 0.4,

		LocalTier: TierConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		CheapTier: TierConfig{
			Provider: "groq",
			Model:    "llama-3.3-70b-versatile",
		},
		PremiumTier: TierConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},

		ProducerVersion: "v1",
	}
}

// Validate raises ErrInvalidConfig-wrapped errors for the cases the
// pipeline cannot safely start with: missing tier definitions, invalid
// thresholds, or non-monotonic tier ordering.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: max_iterations must be positive", ErrInvalidConfig))
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: score_threshold must be in [0,1]", ErrInvalidConfig))
	}
	if c.MaxFieldsPerChunk <= 0 {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: max_fields_per_chunk must be positive", ErrInvalidConfig))
	}
	if c.FuzzyQuoteThreshold < 0 || c.FuzzyQuoteThreshold > 1 {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: fuzzy_quote_threshold must be in [0,1]", ErrInvalidConfig))
	}
	if c.AccuracyWeight+c.ConsistencyWeight <= 0 {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: accuracy_weight + consistency_weight must be positive", ErrInvalidConfig))
	}
	if c.ConfidenceThresholdRegex < c.ConfidenceThresholdLocal ||
		c.ConfidenceThresholdLocal < c.ConfidenceThresholdCheap ||
		c.ConfidenceThresholdCheap < c.ConfidenceThresholdPremium {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: per-tier confidence thresholds must not increase with tier", ErrInvalidConfig))
	}
	if c.HybridMode && c.LocalTier.Provider == "" {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: hybrid_mode requires a local_tier provider", ErrInvalidConfig))
	}
	if c.CheapTier.Provider == "" && c.PremiumTier.Provider == "" {
		return newPipelineError(KindConfigurationError, fmt.Errorf("%w: at least one cloud tier must be configured", ErrInvalidConfig))
	}
	return nil
}
