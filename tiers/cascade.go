package tiers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
)

// maxEscalationConcurrency bounds how many pass-2 tier groups are called
// concurrently, so a schema with many field_routing overrides spanning
// several tiers cannot open unbounded connections to a single provider.
const maxEscalationConcurrency = 4

// Level is one rung of the extraction cascade. Higher levels are more
// expensive and, by configuration, more accurate.
type Level int

const (
	LevelRegex   Level = 0
	LevelLocal   Level = 1
	LevelCheap   Level = 2
	LevelPremium Level = 3
)

// wireExtraction is the JSON shape the cascade asks every LLM tier to
// return: values plus parallel evidence and per-field confidence.
type wireExtraction struct {
	Values     map[string]any     `json:"values"`
	Evidence   []model.Evidence   `json:"evidence"`
	Confidence map[string]float64 `json:"confidence"`
}

// Result is one tier call's outcome, merged across pass 1/pass 2 by Run.
type Result struct {
	Extraction model.ExtractionWithEvidence
	Confidence map[string]float64 // per field key
	TierUsed   map[string]int     // per field key
	EstimatedCost float64
}

// costPerThousandTokens is a rough per-tier cost estimate used to fill
// Result.EstimatedCost; it is not a billing-accurate rate table.
var costPerThousandTokens = map[Level]float64{
	LevelLocal:   0.0,
	LevelCheap:   0.0006,
	LevelPremium: 0.005,
}

// Cascade routes field-level extraction across regex/local/cheap/premium
// tiers per the configured routing policy. It is stateless: each Run call
// is independent and safe to call concurrently.
type Cascade struct {
	Local, Cheap, Premium             llm.Provider
	LocalModel, CheapModel, PremiumModel string

	HybridMode bool

	LocalThreshold, CheapThreshold, PremiumThreshold float64

	// FieldRouting overrides the default tier for specific field keys
	// (e.g. force a field known to be complex onto the premium tier).
	FieldRouting map[string]Level

	// AutoApproveCostThreshold is carried for callers that compare it
	// against EstimateCost; Run does not read it and never blocks a
	// premium-tier call on cost.
	AutoApproveCostThreshold float64
}

// Run executes one extraction pass for schema against contextText. locked
// fields are injected as pre-extracted context; Run does not re-assert
// them into the result (the Executor's applyLocks does). revisionPrompt,
// when non-empty, is appended to the user prompt verbatim (the Executor
// is responsible for assembling the full critique history).
func (c *Cascade) Run(ctx context.Context, schema model.Schema, contextText string, locked map[string]RegexResult, revisionPrompt string) (Result, error) {
	fields := schema.Fields
	if len(fields) == 0 {
		return Result{Extraction: model.ExtractionWithEvidence{Values: map[string]any{}}, Confidence: map[string]float64{}, TierUsed: map[string]int{}}, nil
	}

	pass1Tier := LevelCheap
	if c.HybridMode {
		pass1Tier = LevelLocal
	}

	pass1, err := c.callTier(ctx, pass1Tier, schema, contextText, locked, revisionPrompt)
	if err != nil {
		return Result{}, fmt.Errorf("tiers: pass 1 (%v): %w", pass1Tier, err)
	}

	result := Result{
		Extraction: model.ExtractionWithEvidence{Values: map[string]any{}, Evidence: nil},
		Confidence: map[string]float64{},
		TierUsed:   map[string]int{},
	}
	mergeInto(&result, pass1, int(pass1Tier))
	result.EstimatedCost += EstimateCost(pass1Tier, approxTokens(contextText, len(fields)))

	if !c.HybridMode {
		return result, nil
	}

	// Pass 2: escalate fields whose confidence fell short and whose
	// policy allows escalation (derived/metadata fields never escalate).
	var escalate []model.Field
	for _, f := range fields {
		if f.Policy == model.PolicyDerived || f.Policy == model.PolicyMetadata {
			continue
		}
		if _, isLocked := locked[f.Key]; isLocked {
			continue
		}
		conf := result.Confidence[f.Key]
		if conf < c.LocalThreshold {
			escalate = append(escalate, f)
		}
	}
	if len(escalate) == 0 {
		return result, nil
	}

	// Group escalated fields by their resolved tier (a field_routing
	// override can send a specific field past the default cheap tier),
	// then fan the per-tier calls out concurrently.
	groups := map[Level][]model.Field{}
	for _, f := range escalate {
		lvl := LevelCheap
		if override, ok := c.FieldRouting[f.Key]; ok && override > lvl {
			lvl = override
		}
		groups[lvl] = append(groups[lvl], f)
	}

	levels := make([]Level, 0, len(groups))
	for lvl := range groups {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	pass2 := make([]wireExtraction, len(levels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEscalationConcurrency)
	for i, lvl := range levels {
		i, lvl := i, lvl
		g.Go(func() error {
			subSchema := model.Schema{Name: schema.Name + "#escalated", Version: schema.Version, Fields: groups[lvl]}
			w, err := c.callTier(gctx, lvl, subSchema, contextText, locked, revisionPrompt)
			if err != nil {
				slog.Warn("tiers: pass 2 escalation call failed, keeping pass 1 values", "error", err, "tier", lvl)
				return nil // don't fail the whole escalation on one tier group
			}
			pass2[i] = w
			return nil
		})
	}
	_ = g.Wait()

	// Merge in ascending tier order so a later (higher-tier) call always
	// wins ties, matching mergeInto's documented merge priority.
	for i, lvl := range levels {
		mergeInto(&result, pass2[i], int(lvl))
		result.EstimatedCost += EstimateCost(lvl, approxTokens(contextText, len(groups[lvl])))
	}

	return result, nil
}

// approxTokens estimates the token count of one tier call's prompt using
// a word-count heuristic (tokens ~ words * 1.3), plus a small per-field
// allowance for the schema listing and expected completion.
func approxTokens(contextText string, fieldCount int) int {
	words := len(strings.Fields(contextText))
	return int(float64(words)*1.3) + fieldCount*40
}

// mergeInto folds a tier's wireExtraction into the accumulated result.
// Merge priority is regex-locked > premium > cheap > local, tie-broken by
// higher confidence; since mergeInto is called in ascending tier order
// for pass1 then the (possibly higher) pass2 tier, a later call always
// represents an equal-or-higher tier and so always wins on tie.
func mergeInto(result *Result, w wireExtraction, tier int) {
	for k, v := range w.Values {
		prevTier, had := result.TierUsed[k]
		prevConf := result.Confidence[k]
		conf := w.Confidence[k]
		if !had || tier > prevTier || (tier == prevTier && conf >= prevConf) {
			result.Extraction.Values[k] = v
			result.Confidence[k] = conf
			result.TierUsed[k] = tier
		}
	}
	for _, ev := range w.Evidence {
		result.Extraction.Evidence = append(result.Extraction.Evidence, ev)
	}
}

// callTier issues one structured extraction call against the provider
// backing level, applying locked-field injection and cost estimation.
func (c *Cascade) callTier(ctx context.Context, level Level, schema model.Schema, contextText string, locked map[string]RegexResult, revisionPrompt string) (wireExtraction, error) {
	provider, modelName := c.providerFor(level)
	if provider == nil {
		return wireExtraction{}, fmt.Errorf("tiers: no provider configured for tier %d", level)
	}

	prompt := buildExtractionPrompt(schema, contextText, locked, revisionPrompt)

	var w wireExtraction
	err := llm.ChatStructured(ctx, provider, []llm.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: prompt},
	}, modelName, &w)
	if err != nil {
		return wireExtraction{}, err
	}
	if w.Values == nil {
		w.Values = map[string]any{}
	}
	return w, nil
}

func (c *Cascade) providerFor(level Level) (llm.Provider, string) {
	switch level {
	case LevelLocal:
		return c.Local, c.LocalModel
	case LevelCheap:
		return c.Cheap, c.CheapModel
	case LevelPremium:
		return c.Premium, c.PremiumModel
	default:
		return nil, ""
	}
}

// EstimateCost projects the cost of issuing level's call given an
// approximate token count (prompt + expected completion).
func EstimateCost(level Level, approxTokens int) float64 {
	rate := costPerThousandTokens[level]
	return rate * float64(approxTokens) / 1000.0
}

const extractionSystemPrompt = `You extract structured data from scientific article excerpts for systematic review. Follow the schema exactly. For every field whose policy is "must-be-explicit", return it only if the value is stated verbatim in the excerpt; otherwise report it absent or not-reported. Respond with JSON: {"values": {<field key>: <value>}, "evidence": [{"field_key":"...","quote":"...","chunk_ref":0,"confidence":0..1}], "confidence": {<field key>: 0..1}}.`

func buildExtractionPrompt(schema model.Schema, contextText string, locked map[string]RegexResult, revisionPrompt string) string {
	var b strings.Builder
	b.WriteString("Schema fields:\n")
	for _, f := range schema.Fields {
		fmt.Fprintf(&b, "- %s (%s, policy=%s): %s\n", f.Key, f.Type, f.Policy, f.Description)
	}

	if len(locked) > 0 {
		b.WriteString("\nAlready-extracted fields (do not overwrite unless you find explicit contradiction):\n")
		for k, v := range locked {
			fmt.Fprintf(&b, "- %s = %q\n", k, v.Value)
		}
	}

	b.WriteString("\nSource excerpt:\n")
	b.WriteString(contextText)

	if revisionPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(revisionPrompt)
	}

	return b.String()
}
