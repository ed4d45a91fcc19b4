// Package schemachunk splits a schema that exceeds the configured
// per-call field budget into sequential sub-schemas, and merges the
// tier cascade's per-chunk results back into one extraction. A
// "finding" field's sub-fields are never split across chunk boundaries:
// the whole finding is one atomic packing unit.
package schemachunk

import (
	"github.com/brunobiangulo/scireview/model"
)

// Chunk is one sub-schema produced by Split, plus the boundary offset
// into the original schema's field slice (used only for diagnostics).
type Chunk struct {
	Schema model.Schema
	Offset int
}

// Split packs schema.Fields into chunks of at most maxFields fields
// each, in declaration order, without ever separating a finding
// field's group (today a finding is one Field, so the atomicity rule
// simply means a finding field is never split mid-field; the grouping
// is kept explicit here so a future multi-field finding representation
// stays correct with no caller changes).
func Split(schema model.Schema, maxFields int) []Chunk {
	if maxFields <= 0 {
		maxFields = len(schema.Fields)
	}
	if len(schema.Fields) <= maxFields {
		return []Chunk{{Schema: schema, Offset: 0}}
	}

	groups := groupFields(schema.Fields)

	var chunks []Chunk
	var current []model.Field
	offset := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Schema: model.Schema{Name: schema.Name, Version: schema.Version, Fields: current},
			Offset: offset,
		})
		offset += len(current)
		current = nil
	}

	for _, g := range groups {
		if len(current)+len(g) > maxFields && len(current) > 0 {
			flush()
		}
		if len(g) > maxFields {
			// A single atomic group exceeds the budget by itself; it still
			// cannot be split, so it gets its own oversized chunk.
			flush()
			chunks = append(chunks, Chunk{
				Schema: model.Schema{Name: schema.Name, Version: schema.Version, Fields: g},
				Offset: offset,
			})
			offset += len(g)
			continue
		}
		current = append(current, g...)
	}
	flush()

	return chunks
}

// groupFields partitions fields into atomic packing units. Every
// non-finding field is its own unit of size 1; this function is the
// single place that would grow to emit multi-field groups if the
// finding representation ever gained sibling fields.
func groupFields(fields []model.Field) [][]model.Field {
	groups := make([][]model.Field, 0, len(fields))
	for _, f := range fields {
		groups = append(groups, []model.Field{f})
	}
	return groups
}

// Merge combines per-chunk extraction results into a single extraction,
// unioning values and evidence; a field key that (incorrectly) appears
// in more than one chunk's result keeps the last chunk's value. The
// matching confidences are combined by MergeConfidence.
func Merge(results []model.ExtractionWithEvidence) model.ExtractionWithEvidence {
	merged := model.ExtractionWithEvidence{Values: map[string]any{}}
	for _, r := range results {
		for k, v := range r.Values {
			merged.Values[k] = v
		}
		merged.Evidence = append(merged.Evidence, r.Evidence...)
	}
	return merged
}

// MergeConfidence unions per-chunk confidence maps; a field key present
// in more than one map (should not normally happen, since chunks
// partition the schema) gets the mean of its reported confidences.
func MergeConfidence(maps []map[string]float64) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, m := range maps {
		for k, v := range m {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, s := range sums {
		out[k] = s / float64(counts[k])
	}
	return out
}
