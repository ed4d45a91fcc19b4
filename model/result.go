package model

import "time"

// Evidence is one quoted span backing a single extracted field.
type Evidence struct {
	FieldKey   string  `json:"field_key"`
	Quote      string  `json:"quote"`
	ChunkRef   int     `json:"chunk_ref"` // index into the document's chunk slice
	Confidence float64 `json:"confidence"`
}

// ExtractionWithEvidence is the output of one LLM extraction call: a
// mapping field -> value plus the parallel evidence list.
type ExtractionWithEvidence struct {
	Values   map[string]any `json:"values"`
	Evidence []Evidence     `json:"evidence"`
}

// FieldVerdict is the validator's per-field accuracy/consistency verdict.
type FieldVerdict struct {
	FieldKey string `json:"field_key"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

// CheckerResult is the validator's output for one iteration.
type CheckerResult struct {
	Passed           bool           `json:"passed"`
	AccuracyScore    float64        `json:"accuracy_score"`
	ConsistencyScore float64        `json:"consistency_score"`
	OverallScore     float64        `json:"overall_score"`
	Issues           []string       `json:"issues"`
	Suggestions      []string       `json:"suggestions"`
	FieldVerdicts    []FieldVerdict `json:"field_verdicts"`
}

// IterationRecord is the per-attempt history entry for one document.
type IterationRecord struct {
	Iteration   int      `json:"iteration"`
	Accuracy    float64  `json:"accuracy_score"`
	Consistency float64  `json:"consistency_score"`
	Overall     float64  `json:"overall_score"`
	IssueCount  int      `json:"issue_count"`
	Suggestions []string `json:"suggestions"`
}

// FilterStats records what the Content Filter and Relevance Classifier did
// to the document's chunks before extraction.
type FilterStats struct {
	CharsIn          int  `json:"chars_in"`
	CharsOut         int  `json:"chars_out"`
	SectionsDropped  int  `json:"sections_dropped"`
	ChunksKept       int  `json:"chunks_kept"`
	ChunksDropped    int  `json:"chunks_dropped"`
	ClassifierFailed bool `json:"classifier_failed"`
	FilterFailed     bool `json:"filter_failed"`
}

// Status is the terminal state of a PipelineResult.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// FieldAudit records which tier produced a field's final value, for the
// field-locking invariant (a locked field's final value must equal its
// regex value unless a strictly higher tier overrode it with higher
// confidence).
type FieldAudit struct {
	FieldKey   string  `json:"field_key"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	Locked     bool    `json:"locked"`
	Overridden bool    `json:"overridden"`
}

// PipelineResult is the per-document result of one Extract call.
type PipelineResult struct {
	Document      string            `json:"document"`
	Values        map[string]any    `json:"values"`
	Evidence      []Evidence        `json:"evidence"`
	Checker       CheckerResult     `json:"checker"`
	Iterations    []IterationRecord `json:"iterations"`
	Filter        FilterStats       `json:"filter"`
	FieldAudits   []FieldAudit      `json:"field_audits"`
	Fingerprint   string            `json:"fingerprint"`
	Cached        bool              `json:"cached"`
	Status        Status            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	EstimatedCost float64           `json:"estimated_cost"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// AuditEvent is one structured log entry emitted at the points named in
// the external-interfaces contract: extraction start/end, cache hit/miss,
// tier escalation, iteration boundary, validation verdict, recall-boost
// trigger.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Document   string    `json:"document"`
	FieldOrAll string    `json:"field_or_all"` // a field key, or "whole"
	Event      string    `json:"event"`
	Tier       int       `json:"tier,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CostEst    float64   `json:"cost_estimate,omitempty"`
	LatencyMs  int64     `json:"latency_ms,omitempty"`
}
