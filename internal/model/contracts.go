// Package model defines the uniform extraction-adapter contract every tier
// implements, plus the shared retry and degradation machinery around it.
package model

import (
	"context"

	"docextract/internal/fieldschema"
)

// PriorValue carries a lower tier's answer into an escalation call.
type PriorValue struct {
	Value     any
	Conf      float64
	Rationale string
}

// Request asks an adapter to extract the given fields from a body of text.
type Request struct {
	DocumentID string
	SectionRef string // section or chunk identifier, for logging/audit
	Text       string
	Fields     []fieldschema.FieldSpec

	// PriorValues is populated for tier-2/3 calls: the previous tier's
	// value and rationale per field name, given to the model as context.
	PriorValues map[string]PriorValue
}

// FieldResult is an adapter's answer for one field. Adapters return an
// entry for every requested field; on failure the entry degrades to
// value=nil, confidence=0 instead of being omitted.
type FieldResult struct {
	Name       string
	Value      any
	Confidence float64
	Rationale  string
	Changed    bool // differs from the prior tier's value (escalations only)
}

// Usage accumulates inference accounting across calls.
type Usage struct {
	Calls        int
	InputTokens  int64
	OutputTokens int64
}

func (u *Usage) Add(other Usage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Extractor is the interface the pipeline depends on; one instance per
// tier. Implementations make a single inference call and must not mutate
// shared state.
type Extractor interface {
	Extract(ctx context.Context, req Request) (map[string]FieldResult, Usage, error)
	Model() string
}

// ZeroResults builds the degraded all-fields answer used when a call fails
// for good: every requested field present, confidence 0.
func ZeroResults(fields []fieldschema.FieldSpec, rationale string) map[string]FieldResult {
	out := make(map[string]FieldResult, len(fields))
	for _, f := range fields {
		out[f.Name] = FieldResult{
			Name:       f.Name,
			Value:      nil,
			Confidence: 0,
			Rationale:  rationale,
		}
	}
	return out
}
