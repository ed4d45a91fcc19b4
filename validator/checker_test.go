package validator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
)

type fakeProvider struct {
	chatFunc func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return f.chatFunc(ctx, req)
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("fakeProvider: Embed not supported")
}

func testSchema() model.Schema {
	return model.Schema{
		Name:    "s",
		Version: "1",
		Fields: []model.Field{
			{Key: "outcome", Type: model.FieldScalar, RequiresQuote: true},
		},
	}
}

func TestCheckerCheckPassesWithGoodLLMVerdict(t *testing.T) {
	p := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		b, _ := json.Marshal(checkerResponse{AccuracyScore: 0.9, ConsistencyScore: 0.9})
		return &llm.ChatResponse{Content: string(b)}, nil
	}}

	c := &Checker{
		Chat: p, Model: "m",
		FuzzyQuoteThreshold: 0.6,
		AccuracyWeight:      0.5,
		ConsistencyWeight:   0.5,
		ScoreThreshold:      0.75,
		QualityAuditPenalty: 0.5,
	}

	extraction := model.ExtractionWithEvidence{
		Values: map[string]any{"outcome": "improved"},
		Evidence: []model.Evidence{
			{FieldKey: "outcome", Quote: "symptoms improved substantially"},
		},
	}
	source := "After treatment, symptoms improved substantially in most patients."

	res, err := c.Check(context.Background(), testSchema(), extraction, source)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Passed {
		t.Errorf("expected Passed=true, got %+v", res)
	}
}

func TestCheckerCheckFailsOnUnverifiableQuote(t *testing.T) {
	p := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		b, _ := json.Marshal(checkerResponse{AccuracyScore: 0.95, ConsistencyScore: 0.95})
		return &llm.ChatResponse{Content: string(b)}, nil
	}}

	c := &Checker{
		Chat: p, Model: "m",
		FuzzyQuoteThreshold: 0.6,
		AccuracyWeight:      0.5,
		ConsistencyWeight:   0.5,
		ScoreThreshold:      0.5,
		QualityAuditPenalty: 0.5,
	}

	extraction := model.ExtractionWithEvidence{
		Values: map[string]any{"outcome": "improved"},
		Evidence: []model.Evidence{
			{FieldKey: "outcome", Quote: "completely unrelated text about astrophysics"},
		},
	}
	source := "After treatment, symptoms improved substantially in most patients."

	res, err := c.Check(context.Background(), testSchema(), extraction, source)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Errorf("expected Passed=false when evidence quote does not verify, got %+v", res)
	}
	if len(res.Issues) == 0 {
		t.Error("expected at least one audit issue to be reported")
	}
}

func TestCheckerCheckFailsClosedOnLLMFailure(t *testing.T) {
	p := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("provider unavailable")
	}}

	c := &Checker{
		Chat: p, Model: "m",
		FuzzyQuoteThreshold: 0.6,
		AccuracyWeight:      0.5,
		ConsistencyWeight:   0.5,
		ScoreThreshold:      0.5,
		QualityAuditPenalty: 0.5,
	}

	extraction := model.ExtractionWithEvidence{
		Values: map[string]any{"outcome": "improved"},
		Evidence: []model.Evidence{
			{FieldKey: "outcome", Quote: "symptoms improved substantially"},
		},
	}
	source := "After treatment, symptoms improved substantially in most patients."

	res, err := c.Check(context.Background(), testSchema(), extraction, source)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Passed {
		t.Errorf("expected Passed=false on validator LLM failure, got %+v", res)
	}
	if res.OverallScore != 0 {
		t.Errorf("OverallScore = %v, want 0", res.OverallScore)
	}
	if len(res.Issues) != 1 || res.Issues[0] != "validator unreachable" {
		t.Errorf("Issues = %v, want exactly [%q]", res.Issues, "validator unreachable")
	}
}

func TestBuildRevisionPromptDeterministic(t *testing.T) {
	result := model.CheckerResult{
		Issues:      []string{"issue one", "issue two"},
		Suggestions: []string{"check the units"},
	}
	p1 := BuildRevisionPrompt(result, []string{"sample_size"})
	p2 := BuildRevisionPrompt(result, []string{"sample_size"})
	if p1 != p2 {
		t.Error("expected BuildRevisionPrompt to be deterministic for identical input")
	}
	if p1 == "" {
		t.Error("expected non-empty revision prompt")
	}
}
