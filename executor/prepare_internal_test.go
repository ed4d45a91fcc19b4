package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/brunobiangulo/scireview/filter"
	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
	"github.com/brunobiangulo/scireview/tiers"
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

func TestBuildContextRespectsMaxChars(t *testing.T) {
	chunks := []parser.Chunk{
		{Text: "aaaaa"},
		{Text: "bbbbb"},
		{Text: "ccccc"},
	}
	got := buildContext(chunks, 8)
	if len(got) > 8 {
		t.Errorf("buildContext length = %d, want <= 8", len(got))
	}
}

func TestBuildContextNoLimitJoinsAll(t *testing.T) {
	chunks := []parser.Chunk{{Text: "a"}, {Text: "b"}}
	got := buildContext(chunks, 0)
	if got != "a\n\nb\n\n" {
		t.Errorf("buildContext = %q", got)
	}
}

func TestClassifyChunksNoClassifierKeepsAll(t *testing.T) {
	e := &Executor{}
	chunks := []parser.Chunk{{Text: "a"}, {Text: "b"}}
	kept, failed := classifyChunks(context.Background(), e, chunks, "theme", nil)
	if len(kept) != 2 || failed {
		t.Errorf("kept=%v failed=%v, want all kept and failed=false", kept, failed)
	}
}

func TestClassifyChunksDropsBelowThreshold(t *testing.T) {
	p := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: `{"relevance": 0.1, "rationale": "irrelevant"}`}, nil
	}}
	e := &Executor{Classifier: filter.NewClassifier(p, "m", 0.5)}
	chunks := []parser.Chunk{{Text: "irrelevant boilerplate"}}
	kept, failed := classifyChunks(context.Background(), e, chunks, "theme", nil)
	if len(kept) != 0 || failed {
		t.Errorf("kept=%v failed=%v, want none kept", kept, failed)
	}
}

func TestClassifyChunksFailureKeepsConservatively(t *testing.T) {
	p := &fakeProvider{chatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("down")
	}}
	e := &Executor{Classifier: filter.NewClassifier(p, "m", 0.9)}
	chunks := []parser.Chunk{{Text: "some text"}, {Text: "more text"}}
	kept, failed := classifyChunks(context.Background(), e, chunks, "theme", nil)
	if len(kept) != 2 {
		t.Errorf("expected both chunks kept conservatively on failure, got %v", kept)
	}
	if !failed {
		t.Error("expected failed=true when a classifier call errors")
	}
}

func TestNeedsRecallBoostFindingNotReported(t *testing.T) {
	f := model.Field{Key: "finding1", Type: model.FieldFinding}
	v := model.Finding{Status: model.StatusNotReported}
	if needsRecallBoost(f, v, true) {
		t.Error("a not-reported finding should not trigger recall boost")
	}
}

func TestNeedsRecallBoostFindingEmptyStatus(t *testing.T) {
	f := model.Field{Key: "finding1", Type: model.FieldFinding}
	v := model.Finding{}
	if !needsRecallBoost(f, v, true) {
		t.Error("a finding with empty status should trigger recall boost")
	}
}

func TestNeedsRecallBoostAbsentField(t *testing.T) {
	f := model.Field{Key: "x", Type: model.FieldScalar}
	if !needsRecallBoost(f, nil, false) {
		t.Error("absent field should trigger recall boost")
	}
}

func TestNeedsRecallBoostZeroNumeric(t *testing.T) {
	f := model.Field{Key: "n", Type: model.FieldNumeric}
	if !needsRecallBoost(f, float64(0), true) {
		t.Error("zero-valued numeric field should trigger recall boost")
	}
	if needsRecallBoost(f, float64(5), true) {
		t.Error("non-zero numeric field should not trigger recall boost")
	}
}

func TestNeedsRecallBoostBlankString(t *testing.T) {
	f := model.Field{Key: "s", Type: model.FieldScalar}
	if !needsRecallBoost(f, "   ", true) {
		t.Error("blank string field should trigger recall boost")
	}
	if needsRecallBoost(f, "value", true) {
		t.Error("non-blank string field should not trigger recall boost")
	}
}

func TestRecallBoostFieldsSkipsDerivedAndAlreadyRequested(t *testing.T) {
	schema := model.Schema{Fields: []model.Field{
		{Key: "derived", Policy: model.PolicyDerived, Type: model.FieldScalar},
		{Key: "missing", Type: model.FieldScalar},
		{Key: "already", Type: model.FieldScalar},
	}}
	requested := map[string]bool{"already": true}
	out := recallBoostFields(schema, map[string]any{}, requested)
	if len(out) != 1 || out[0] != "missing" {
		t.Errorf("recallBoostFields = %v, want [missing]", out)
	}
}

func TestApplyLocksReassertsLockedFieldWhenNotOverridden(t *testing.T) {
	values := map[string]any{}
	confidence := map[string]float64{}
	tierUsed := map[string]int{}
	locked := map[string]tiers.RegexResult{"doi": {Value: "10.1/x", Confidence: 0.97}}
	applyLocks(values, confidence, tierUsed, locked)

	if values["doi"] != "10.1/x" {
		t.Errorf("values[doi] = %v, want locked value", values["doi"])
	}
	if tierUsed["doi"] != 0 {
		t.Errorf("tierUsed[doi] = %d, want 0 (locked)", tierUsed["doi"])
	}
}

func TestApplyLocksYieldsToHigherTierHigherConfidence(t *testing.T) {
	values := map[string]any{"doi": "10.2/y"}
	confidence := map[string]float64{"doi": 0.99}
	tierUsed := map[string]int{"doi": 2}
	locked := map[string]tiers.RegexResult{"doi": {Value: "10.1/x", Confidence: 0.97}}
	applyLocks(values, confidence, tierUsed, locked)

	if values["doi"] != "10.2/y" {
		t.Errorf("values[doi] = %v, want the higher-tier higher-confidence value to win", values["doi"])
	}
}
