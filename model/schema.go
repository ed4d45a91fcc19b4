// Package model holds the data types shared across the pipeline's layers
// (schema, extraction results, cache entries). It has no dependencies on
// any other package in this module so every layer — root orchestrator,
// executor, tiers, validator, filter, schemachunk, cache — can import it
// without creating an import cycle.
package model

// FieldType is the semantic type of a schema field's value.
type FieldType string

const (
	FieldScalar  FieldType = "scalar"  // free string/enum value
	FieldNumeric FieldType = "numeric" // number, optionally with a unit
	FieldFinding FieldType = "finding" // structured presence/frequency value
	FieldText    FieldType = "text"    // free text
)

// ExtractionPolicy directs how aggressively a tier may infer a field's
// value from context rather than requiring it verbatim.
type ExtractionPolicy string

const (
	PolicyMetadata       ExtractionPolicy = "metadata"        // always extract (e.g. DOI)
	PolicyInferable      ExtractionPolicy = "inferable"       // the model may infer from context
	PolicyMustBeExplicit ExtractionPolicy = "must-be-explicit" // refuse unless stated verbatim
	PolicyDerived        ExtractionPolicy = "derived"         // computed from other fields, never extracted directly
	PolicyHumanReview    ExtractionPolicy = "human-review"    // flagged for a human, never auto-returned
)

// AggregationUnit is the population unit a finding's denominator counts.
type AggregationUnit string

const (
	UnitPatient  AggregationUnit = "patient"
	UnitLesion   AggregationUnit = "lesion"
	UnitSpecimen AggregationUnit = "specimen"
	UnitBiopsy   AggregationUnit = "biopsy"
	UnitImaging  AggregationUnit = "imaging-series"
)

// FindingStatus is the presence verdict of a finding field.
type FindingStatus string

const (
	StatusPresent     FindingStatus = "present"
	StatusAbsent      FindingStatus = "absent"
	StatusNotReported FindingStatus = "not-reported"
	StatusUnclear     FindingStatus = "unclear"
)

// Field describes one column of the target schema.
type Field struct {
	Key               string
	Type              FieldType
	Description       string
	Policy            ExtractionPolicy
	SourceSectionHint string          // e.g. "methods" — optional nudge to the classifier
	Keywords          []string        // optional keyword list used by the relevance classifier
	RequiresQuote     bool            // field must carry a verified evidence quote
	AggregationUnit   AggregationUnit // only meaningful when Type == FieldFinding
}

// IsFindingGroup reports whether f is part of the atomic sub-field group
// that the Schema Chunker must never split across chunks.
func (f Field) IsFindingGroup() bool {
	return f.Type == FieldFinding
}

// Schema is a named, ordered collection of fields. Field order is
// preserved by the chunker and by merge operations so output is stable
// across runs.
type Schema struct {
	Name    string
	Version string // bumped whenever field semantics change; used as a cache-invalidation key
	Fields  []Field
}

// FieldKeys returns the schema's field keys in declaration order.
func (s Schema) FieldKeys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Key
	}
	return keys
}

// Field looks up a field by key. ok is false if no such field exists.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Finding is the structured value of a FieldFinding field.
type Finding struct {
	Status          FindingStatus   `json:"status"`
	N               int             `json:"n"`
	NTotal          int             `json:"n_total"` // denominator, "N" in the spec
	AggregationUnit AggregationUnit `json:"aggregation_unit"`
	EvidenceQuote   string          `json:"evidence_quote,omitempty"`
}

// Valid checks the finding's internal numeric invariants: n <= N, both
// non-negative, and N <= cohortSize when the aggregation unit is patient
// and cohortSize is known (cohortSize <= 0 means unknown, unchecked).
// ok is false with a reason when an invariant is violated.
func (fd Finding) Valid(cohortSize int) (ok bool, reason string) {
	if fd.N < 0 || fd.NTotal < 0 {
		return false, "negative n or N"
	}
	if fd.N > fd.NTotal {
		return false, "n exceeds N"
	}
	if fd.AggregationUnit == UnitPatient && cohortSize > 0 && fd.NTotal > cohortSize {
		return false, "N exceeds cohort size"
	}
	return true, ""
}
