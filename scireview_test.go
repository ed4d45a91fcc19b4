package scireview

import (
	"context"
	"testing"

	"github.com/brunobiangulo/scireview/model"
	"github.com/brunobiangulo/scireview/parser"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := Config{} // no tiers, MaxIterations 0: fails Validate
	if _, err := New(cfg); err == nil {
		t.Fatal("expected New to reject an invalid config")
	}
}

func TestNewBuildsPipelineWithoutNetworkCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridMode = false
	cfg.LocalTier = TierConfig{}
	cfg.CachePath = ""

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if p.exec == nil {
		t.Fatal("expected Pipeline to wire an executor")
	}
	if p.exec.Cascade == nil {
		t.Fatal("expected Pipeline to wire a tier cascade")
	}
}

func TestExtractRejectsNilDocument(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridMode = false
	cfg.LocalTier = TierConfig{}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	_, err = p.Extract(context.Background(), nil, model.Schema{Fields: []model.Field{{Key: "x"}}}, "theme")
	if err == nil {
		t.Fatal("expected Extract to reject a nil document")
	}
}

func TestExtractEmptySchemaTrivialSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridMode = false
	cfg.LocalTier = TierConfig{}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	doc := &parser.ParsedDocument{Filename: "x.pdf", FullText: "text"}
	res, err := p.Extract(context.Background(), doc, model.Schema{}, "theme")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Status != model.StatusSuccess {
		t.Errorf("Status = %q, want success", res.Status)
	}
	if len(res.Values) != 0 {
		t.Errorf("Values = %v, want empty", res.Values)
	}
}

func TestSetHybridModePropagatesToCascade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridMode = false
	cfg.LocalTier = TierConfig{}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	p.SetHybridMode(true)
	if !p.exec.Cascade.HybridMode {
		t.Error("expected SetHybridMode(true) to propagate to the executor's cascade")
	}
}

func TestRoutingOverridesConvertsFieldRouting(t *testing.T) {
	overrides := routingOverrides(map[string]int{"sample_size": 3})
	if len(overrides) != 1 {
		t.Fatalf("got %d overrides, want 1", len(overrides))
	}
	if overrides["sample_size"] != 3 {
		t.Errorf("overrides[sample_size] = %v, want 3", overrides["sample_size"])
	}
}

func TestRoutingOverridesEmptyReturnsNil(t *testing.T) {
	if got := routingOverrides(nil); got != nil {
		t.Errorf("routingOverrides(nil) = %v, want nil", got)
	}
}
