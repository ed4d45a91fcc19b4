package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/scireview/llm"
	"github.com/brunobiangulo/scireview/parser"
)

// classifierPromptPrefixChars is the fixed prefix length used when
// truncating long chunks before prompting, so the classifier is
// deterministic under re-run regardless of chunk length.
const classifierPromptPrefixChars = 2000

// ChunkVerdict is the Relevance Classifier's per-chunk decision.
type ChunkVerdict struct {
	Relevance     float64  `json:"relevance"`
	Rationale     string   `json:"rationale"`
	MatchingKeys  []string `json:"matching_field_keys"`
}

type classifierResponse struct {
	Relevance    float64  `json:"relevance"`
	Rationale    string   `json:"rationale"`
	MatchingKeys []string `json:"matching_field_keys"`
}

// Classifier scores chunks for relevance to a review theme and a target
// field set using an LLM. It is stateless; a classifier call failure is
// handled by the caller keeping the chunk conservatively, never by
// retrying here.
type Classifier struct {
	chat      llm.Provider
	model     string
	threshold float64
}

// NewClassifier returns a Classifier backed by chat, accepting chunks
// whose relevance score is >= threshold.
func NewClassifier(chat llm.Provider, model string, threshold float64) *Classifier {
	return &Classifier{chat: chat, model: model, threshold: threshold}
}

// Classify scores one chunk against theme and fieldKeys. On transport
// failure it returns a conservative "keep" verdict (relevance 1.0) and a
// non-nil error so the caller can log the failure without aborting.
func (c *Classifier) Classify(ctx context.Context, chunk parser.Chunk, theme string, fieldKeys []string) (ChunkVerdict, error) {
	text := chunk.Text
	if len(text) > classifierPromptPrefixChars {
		text = text[:classifierPromptPrefixChars]
	}

	prompt := buildClassifierPrompt(text, theme, fieldKeys)

	var resp classifierResponse
	err := llm.ChatStructured(ctx, c.chat, []llm.Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: prompt},
	}, c.model, &resp)
	if err != nil {
		slog.Warn("filter: classifier call failed, keeping chunk conservatively", "error", err)
		return ChunkVerdict{Relevance: 1.0, Rationale: "classifier unavailable, kept conservatively"}, err
	}

	return ChunkVerdict{
		Relevance:    resp.Relevance,
		Rationale:    resp.Rationale,
		MatchingKeys: resp.MatchingKeys,
	}, nil
}

// Keep reports whether a verdict clears the acceptance threshold.
func (c *Classifier) Keep(v ChunkVerdict) bool {
	return v.Relevance >= c.threshold
}

const classifierSystemPrompt = `You score whether a document excerpt is relevant to a systematic-review data-extraction task. Respond with a JSON object: {"relevance": <0..1>, "rationale": "<one sentence>", "matching_field_keys": ["<field key>", ...]}.`

func buildClassifierPrompt(text, theme string, fieldKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review theme: %s\n\n", theme)
	fmt.Fprintf(&b, "Target fields: %s\n\n", strings.Join(fieldKeys, ", "))
	b.WriteString("Excerpt:\n")
	b.WriteString(text)
	return b.String()
}
