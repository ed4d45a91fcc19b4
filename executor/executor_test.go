package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brunobiangulo/scireview/filter"
	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
	"github.com/brunobiangulo/scireview/tiers"
	"github.com/brunobiangulo/scireview/validator"
)

func testDoc() *parser.ParsedDocument {
	return &parser.ParsedDocument{
		Filename: "article.pdf",
		FullText: "Methods: 40 patients were enrolled. Results: outcome improved substantially.",
		Chunks: []parser.Chunk{
			{Text: "Methods: 40 patients were enrolled.", SectionTag: "methods"},
			{Text: "Results: outcome improved substantially.", SectionTag: "results"},
		},
	}
}

func testSchema() model.Schema {
	return model.Schema{
		Name:    "demo",
		Version: "v1",
		Fields: []model.Field{
			{Key: "outcome", Type: model.FieldScalar, Policy: model.PolicyInferable, RequiresQuote: true},
		},
	}
}

type cascadeResponse struct {
	Values     map[string]any     `json:"values"`
	Evidence   []model.Evidence   `json:"evidence"`
	Confidence map[string]float64 `json:"confidence"`
}

func TestExecutorRunSucceedsOnFirstIteration(t *testing.T) {
	cascadeProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		b, _ := json.Marshal(cascadeResponse{
			Values:     map[string]any{"outcome": "improved"},
			Evidence:   []model.Evidence{{FieldKey: "outcome", Quote: "outcome improved substantially"}},
			Confidence: map[string]float64{"outcome": 0.9},
		})
		return &llm.ChatResponse{Content: string(b)}, nil
	}}
	checkerProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"accuracy_score":0.9,"consistency_score":0.9}`}, nil
	}}

	e := &Executor{
		Filter:     filter.New(nil),
		Cascade:    &tiers.Cascade{Cheap: cascadeProvider, CheapModel: "cheap"},
		Checker: &validator.Checker{
			Chat: checkerProvider, Model: "checker",
			FuzzyQuoteThreshold: 0.6,
			AccuracyWeight:      0.5,
			ConsistencyWeight:   0.5,
			ScoreThreshold:      0.7,
			QualityAuditPenalty: 0.5,
		},
		Cfg: Config{MaxIterations: 2, MaxFieldsPerChunk: 10, ConfidenceThresholdRegex: 0.9},
	}

	res, err := e.Run(context.Background(), testDoc(), testSchema(), "diabetes outcomes")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != model.StatusSuccess {
		t.Fatalf("Status = %q, want success; reason=%q", res.Status, res.Reason)
	}
	if res.Values["outcome"] != "improved" {
		t.Errorf("Values[outcome] = %v", res.Values["outcome"])
	}
	if res.EstimatedCost <= 0 {
		t.Error("expected EstimatedCost to be populated on a successful run")
	}
}

func TestExecutorRunPartialWhenValidationNeverPasses(t *testing.T) {
	cascadeProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		b, _ := json.Marshal(cascadeResponse{
			Values:     map[string]any{"outcome": "improved"},
			Evidence:   []model.Evidence{{FieldKey: "outcome", Quote: "completely unrelated text"}},
			Confidence: map[string]float64{"outcome": 0.9},
		})
		return &llm.ChatResponse{Content: string(b)}, nil
	}}
	checkerProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"accuracy_score":0.9,"consistency_score":0.9}`}, nil
	}}

	e := &Executor{
		Cascade: &tiers.Cascade{Cheap: cascadeProvider, CheapModel: "cheap"},
		Checker: &validator.Checker{
			Chat: checkerProvider, Model: "checker",
			FuzzyQuoteThreshold: 0.6,
			AccuracyWeight:      0.5,
			ConsistencyWeight:   0.5,
			ScoreThreshold:      0.7,
			QualityAuditPenalty: 0.5,
		},
		Cfg: Config{MaxIterations: 1, MaxFieldsPerChunk: 10},
	}

	res, err := e.Run(context.Background(), testDoc(), testSchema(), "theme")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != model.StatusPartial {
		t.Errorf("Status = %q, want partial", res.Status)
	}
}

func TestExecutorRunAllLLMCallsFailYieldsPartial(t *testing.T) {
	attempts := 0
	cascadeProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		attempts++
		return nil, errors.New("provider unavailable")
	}}
	checkerProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"accuracy_score":0.9,"consistency_score":0.9}`}, nil
	}}

	e := &Executor{
		Cascade: &tiers.Cascade{Cheap: cascadeProvider, CheapModel: "cheap"},
		Checker: &validator.Checker{
			Chat: checkerProvider, Model: "checker",
			FuzzyQuoteThreshold: 0.6,
			AccuracyWeight:      0.5,
			ConsistencyWeight:   0.5,
			ScoreThreshold:      0.7,
			QualityAuditPenalty: 0.5,
		},
		Cfg: Config{MaxIterations: 3, MaxFieldsPerChunk: 10},
	}

	res, err := e.Run(context.Background(), testDoc(), testSchema(), "theme")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != model.StatusPartial {
		t.Errorf("Status = %q, want partial", res.Status)
	}
	if attempts != e.Cfg.MaxIterations {
		t.Errorf("attempts = %d, want exactly %d (MaxIterations)", attempts, e.Cfg.MaxIterations)
	}
}

func TestExecutorRunCooperativeSuspendsAtEachStage(t *testing.T) {
	cascadeProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		b, _ := json.Marshal(cascadeResponse{
			Values:     map[string]any{"outcome": "improved"},
			Evidence:   []model.Evidence{{FieldKey: "outcome", Quote: "outcome improved substantially"}},
			Confidence: map[string]float64{"outcome": 0.9},
		})
		return &llm.ChatResponse{Content: string(b)}, nil
	}}
	checkerProvider := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"accuracy_score":0.9,"consistency_score":0.9}`}, nil
	}}

	e := &Executor{
		Cascade: &tiers.Cascade{Cheap: cascadeProvider, CheapModel: "cheap"},
		Checker: &validator.Checker{
			Chat: checkerProvider, Model: "checker",
			FuzzyQuoteThreshold: 0.6,
			AccuracyWeight:      0.5,
			ConsistencyWeight:   0.5,
			ScoreThreshold:      0.7,
			QualityAuditPenalty: 0.5,
		},
		Cfg: Config{MaxIterations: 1, MaxFieldsPerChunk: 10},
	}

	sess := e.RunCooperative(context.Background(), testDoc(), testSchema(), "theme")

	var stages []string
	for {
		sp, ok := sess.Next()
		if !ok {
			break
		}
		stages = append(stages, sp.Stage)
		sess.Resume(nil)
	}

	res, err := sess.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.Status != model.StatusSuccess {
		t.Errorf("Status = %q, want success", res.Status)
	}
	if len(stages) == 0 {
		t.Error("expected at least one suspension point")
	}
	sawExtract := false
	for _, s := range stages {
		if s == StageExtract {
			sawExtract = true
		}
	}
	if !sawExtract {
		t.Errorf("expected StageExtract among suspension points, got %v", stages)
	}
}

func TestBuildFieldAuditsMarksLockedAndOverridden(t *testing.T) {
	schema := model.Schema{Fields: []model.Field{{Key: "doi"}, {Key: "outcome"}}}
	confidence := map[string]float64{"doi": 0.97, "outcome": 0.8}
	tierUsed := map[string]int{"doi": 2, "outcome": 1}
	locked := map[string]tiers.RegexResult{"doi": {Value: "10.1/x", Confidence: 0.97}}

	audits := buildFieldAudits(schema, confidence, tierUsed, locked)
	var doiAudit model.FieldAudit
	for _, a := range audits {
		if a.FieldKey == "doi" {
			doiAudit = a
		}
	}
	if !doiAudit.Locked || !doiAudit.Overridden {
		t.Errorf("doi audit = %+v, want Locked and Overridden true", doiAudit)
	}
}
