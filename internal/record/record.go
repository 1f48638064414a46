// Package record holds the per-document extraction result: one current
// value per field plus its append-only escalation history.
package record

import (
	"sort"
	"time"

	"docextract/constants"
)

// Attempt is one extraction pass over a field at some tier. History is
// append-only; the current value always corresponds to the last attempt
// that was accepted.
type Attempt struct {
	Tier       constants.Tier `json:"tier"`
	Value      any            `json:"value"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale,omitempty"`
	Changed    bool           `json:"changed"` // value differs from the prior tier's
	At         time.Time      `json:"at"`
}

// Field is the current state of one extracted field.
type Field struct {
	Name            string                  `json:"name"`
	Category        constants.FieldCategory `json:"category"`
	Value           any                     `json:"value"`
	Confidence      float64                 `json:"confidence"`
	TierUsed        constants.Tier          `json:"tier_used"`
	Status          constants.FieldStatus   `json:"status"`
	ValidationFlags []string                `json:"validation_flags,omitempty"`
	Rationale       string                  `json:"rationale,omitempty"`
	History         []Attempt               `json:"history,omitempty"`
}

// Apply records an extraction attempt. The attempt always appends to
// history; the current value is replaced only when the attempt does not
// lower the tier and does not lower confidence (escalation never downgrades
// either). Returns whether the value was accepted.
func (f *Field) Apply(tier constants.Tier, value any, confidence float64, rationale string, at time.Time) bool {
	changed := tier > constants.Tier1 && !equalValue(f.Value, value)
	f.History = append(f.History, Attempt{
		Tier:       tier,
		Value:      value,
		Confidence: confidence,
		Rationale:  rationale,
		Changed:    changed,
		At:         at,
	})
	if tier < f.TierUsed {
		return false
	}
	if confidence < f.Confidence && f.Value != nil {
		return false
	}
	f.Value = value
	f.Confidence = confidence
	f.TierUsed = tier
	f.Rationale = rationale
	return true
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a == b
}

// Record aggregates all fields for one document.
type Record struct {
	DocumentID      string            `json:"document_id"`
	DocumentName    string            `json:"document_name,omitempty"`
	Fields          map[string]*Field `json:"fields"`
	ModelsUsed      []string          `json:"models_used"`
	FinalConfidence float64           `json:"final_confidence"`
	EstimatedCost   float64           `json:"estimated_cost"`
	ProcessingTime  time.Duration     `json:"processing_time"`
	NaiveTokens     int               `json:"naive_tokens"`
	ChunkedTokens   int               `json:"chunked_tokens"`
	FinalizedAt     time.Time         `json:"finalized_at,omitempty"`
}

// New creates an empty record for a document.
func New(docID, docName string) *Record {
	return &Record{
		DocumentID:   docID,
		DocumentName: docName,
		Fields:       make(map[string]*Field),
	}
}

// Field returns the named field, creating it in EXTRACTED state on first
// touch so no requested field can end up silently absent.
func (r *Record) Field(name string, category constants.FieldCategory) *Field {
	if f, ok := r.Fields[name]; ok {
		return f
	}
	f := &Field{
		Name:     name,
		Category: category,
		Status:   constants.FieldExtracted,
		TierUsed: constants.Tier1,
	}
	r.Fields[name] = f
	return f
}

// FieldNames returns field names in deterministic order.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddModel records a model identifier once.
func (r *Record) AddModel(model string) {
	for _, m := range r.ModelsUsed {
		if m == model {
			return
		}
	}
	r.ModelsUsed = append(r.ModelsUsed, model)
}

// Finalize forces every non-terminal field to a terminal status and
// computes the record-level confidence (mean over fields). Idempotent.
func (r *Record) Finalize(threshold float64, at time.Time) {
	sum := 0.0
	for _, name := range r.FieldNames() {
		f := r.Fields[name]
		if !f.Status.Terminal() {
			if f.Confidence >= threshold && len(f.ValidationFlags) == 0 {
				f.Status = constants.FieldResolved
			} else {
				f.Status = constants.FieldUnresolved
			}
		}
		sum += f.Confidence
	}
	if len(r.Fields) > 0 {
		r.FinalConfidence = sum / float64(len(r.Fields))
	}
	if r.FinalizedAt.IsZero() {
		r.FinalizedAt = at
	}
}

// Escalated reports whether any field went past tier 1.
func (r *Record) Escalated() bool {
	for _, f := range r.Fields {
		if f.TierUsed > constants.Tier1 {
			return true
		}
	}
	return false
}
