package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
)

// errValidatorUnreachable is the single issue reported when the checker
// LLM call fails; the verdict fails closed rather than degrading to a
// heuristic that could pass an extraction no model actually reviewed.
const errValidatorUnreachable = "validator unreachable"

type checkerResponse struct {
	AccuracyScore    float64             `json:"accuracy_score"`
	ConsistencyScore float64             `json:"consistency_score"`
	FieldVerdicts    []model.FieldVerdict `json:"field_verdicts"`
	Issues           []string            `json:"issues"`
	Suggestions      []string            `json:"suggestions"`
}

// Checker is the Validator/Self-Critic. It combines deterministic
// evidence-quote verification and an LLM-backed accuracy/consistency
// review into one CheckerResult.
type Checker struct {
	Chat  llm.Provider
	Model string

	FuzzyQuoteThreshold float64
	AccuracyWeight      float64
	ConsistencyWeight   float64
	ScoreThreshold      float64
	QualityAuditPenalty float64
}

// Check validates one extraction attempt against schema and sourceText.
// It always runs the deterministic evidence audit; the LLM review backs
// it up. If the LLM call fails, Check fails closed: the iteration is
// reported as not passed rather than falling back to a verdict no model
// actually produced.
func (c *Checker) Check(ctx context.Context, schema model.Schema, extraction model.ExtractionWithEvidence, sourceText string) (model.CheckerResult, error) {
	auditPassed, auditIssues := c.auditEvidence(schema, extraction, sourceText)

	resp, err := c.callLLM(ctx, schema, extraction, sourceText)
	if err != nil {
		return model.CheckerResult{
			Passed:       false,
			OverallScore: 0,
			Issues:       []string{errValidatorUnreachable},
		}, nil
	}

	overall := c.AccuracyWeight*resp.AccuracyScore + c.ConsistencyWeight*resp.ConsistencyScore
	if !auditPassed {
		overall *= c.QualityAuditPenalty
	}

	issues := append(append([]string{}, resp.Issues...), auditIssues...)
	passed := overall >= c.ScoreThreshold && auditPassed

	return model.CheckerResult{
		Passed:           passed,
		AccuracyScore:    resp.AccuracyScore,
		ConsistencyScore: resp.ConsistencyScore,
		OverallScore:     overall,
		Issues:           issues,
		Suggestions:      resp.Suggestions,
		FieldVerdicts:    resp.FieldVerdicts,
	}, nil
}

// auditEvidence verifies every evidence quote against sourceText using
// VerifyQuote, checks that every quote-required field with a value has a
// non-empty quote, and verifies every finding field's internal
// invariants. It returns false when any quote fails verification, any
// required quote is missing, or any finding field is internally
// inconsistent.
func (c *Checker) auditEvidence(schema model.Schema, extraction model.ExtractionWithEvidence, sourceText string) (bool, []string) {
	threshold := c.FuzzyQuoteThreshold
	if threshold <= 0 {
		threshold = 0.6
	}

	passed := true
	var issues []string

	for _, ev := range extraction.Evidence {
		f, ok := schema.Field(ev.FieldKey)
		if ok && !f.RequiresQuote {
			continue
		}
		if ok2, score := VerifyQuote(ev.Quote, sourceText, threshold); !ok2 {
			passed = false
			issues = append(issues, fmt.Sprintf("evidence quote for %q did not verify against source (similarity %.2f)", ev.FieldKey, score))
		}
	}

	quoted := map[string]bool{}
	for _, ev := range extraction.Evidence {
		if strings.TrimSpace(ev.Quote) != "" {
			quoted[ev.FieldKey] = true
		}
	}
	for _, f := range schema.Fields {
		if _, has := extraction.Values[f.Key]; f.RequiresQuote && has && !quoted[f.Key] {
			passed = false
			issues = append(issues, fmt.Sprintf("field %q requires an evidence quote but none was provided", f.Key))
		}
	}

	for _, f := range schema.Fields {
		if !f.IsFindingGroup() {
			continue
		}
		raw, ok := extraction.Values[f.Key]
		if !ok {
			continue
		}
		fd, ok := raw.(model.Finding)
		if !ok {
			b, err := json.Marshal(raw)
			if err != nil || json.Unmarshal(b, &fd) != nil {
				continue
			}
		}
		if ok, reason := fd.Valid(0); !ok {
			passed = false
			issues = append(issues, fmt.Sprintf("finding %q failed invariant check: %s", f.Key, reason))
		}
	}

	return passed, issues
}

func (c *Checker) callLLM(ctx context.Context, schema model.Schema, extraction model.ExtractionWithEvidence, sourceText string) (checkerResponse, error) {
	if c.Chat == nil {
		return checkerResponse{}, fmt.Errorf("validator: no provider configured")
	}

	prompt := buildCheckPrompt(schema, extraction, sourceText)

	var resp checkerResponse
	err := llm.ChatStructured(ctx, c.Chat, []llm.Message{
		{Role: "system", Content: checkerSystemPrompt},
		{Role: "user", Content: prompt},
	}, c.Model, &resp)
	return resp, err
}

const checkerSystemPrompt = `You are a meticulous fact-checker reviewing a structured data extraction from a scientific article. For each field, judge whether its value is accurately and consistently supported by the source excerpt. Respond with JSON: {"accuracy_score":0..1,"consistency_score":0..1,"field_verdicts":[{"field_key":"...","passed":true,"reason":"..."}],"issues":["..."],"suggestions":["..."]}.`

func buildCheckPrompt(schema model.Schema, extraction model.ExtractionWithEvidence, sourceText string) string {
	var b strings.Builder
	b.WriteString("Extracted values:\n")
	for _, f := range schema.Fields {
		v, ok := extraction.Values[f.Key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s = %v\n", f.Key, v)
	}
	b.WriteString("\nEvidence quotes:\n")
	for _, ev := range extraction.Evidence {
		fmt.Fprintf(&b, "- %s: %q\n", ev.FieldKey, ev.Quote)
	}
	b.WriteString("\nSource excerpt:\n")
	b.WriteString(sourceText)
	return b.String()
}

// BuildRevisionPrompt formats a CheckerResult's issues and suggestions
// into a deterministic, replayable prompt addendum for the next
// extraction attempt. Messages are emitted in the order they appear in
// result so the same CheckerResult always produces the same prompt.
func BuildRevisionPrompt(result model.CheckerResult, requestedFields []string) string {
	var b strings.Builder
	b.WriteString("The previous attempt had the following issues:\n")
	for _, issue := range result.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	if len(result.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range result.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(requestedFields) > 0 {
		b.WriteString("\nPay special attention to these fields, previously missing or zero-valued:\n")
		for _, k := range requestedFields {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}
	return b.String()
}
