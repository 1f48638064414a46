// Package route decides whether and where a flagged field gets
// re-extracted. The lifecycle is an explicit state machine with a declared
// transition table, so routing is unit-testable with fixed confidences and
// no model in sight.
package route

import (
	"fmt"
	"sort"

	"docextract/constants"
	"docextract/internal/record"
)

// transitions is the complete set of legal status moves:
//
//	extracted → flagged
//	flagged   → escalated_tier2 | unresolved
//	escalated_tier2 → resolved | escalated_tier3 | unresolved
//	escalated_tier3 → resolved | unresolved
var transitions = map[constants.FieldStatus][]constants.FieldStatus{
	constants.FieldExtracted:      {constants.FieldFlagged, constants.FieldResolved},
	constants.FieldFlagged:        {constants.FieldEscalatedTier2, constants.FieldUnresolved},
	constants.FieldEscalatedTier2: {constants.FieldResolved, constants.FieldEscalatedTier3, constants.FieldUnresolved},
	constants.FieldEscalatedTier3: {constants.FieldResolved, constants.FieldUnresolved},
}

// CanTransition reports whether from→to is in the table.
func CanTransition(from, to constants.FieldStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply moves a field to the next status, rejecting anything outside the
// table. Terminal states never move again.
func Apply(f *record.Field, to constants.FieldStatus) error {
	if !CanTransition(f.Status, to) {
		return fmt.Errorf("illegal field transition %s → %s (%s)", f.Status, to, f.Name)
	}
	f.Status = to
	return nil
}

// Budgets caps escalations for one document. Tier3 is a separate, smaller
// pool available only to critical fields.
type Budgets struct {
	Tier2 int
	Tier3 int
}

// Decision is one planned escalation.
type Decision struct {
	Field *record.Field
	Tier  constants.Tier
}

// Router owns the threshold used to settle post-escalation outcomes.
type Router struct {
	threshold float64
}

func New(confidenceThreshold float64) *Router {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.75
	}
	return &Router{threshold: confidenceThreshold}
}

// orderForBudget sorts contenders strictly by category priority
// (critical > high > medium > low), then lowest confidence, then name.
// The ordering is total, so budget allocation is deterministic.
func orderForBudget(fields []*record.Field) {
	sort.SliceStable(fields, func(i, j int) bool {
		pi, pj := fields[i].Category.Priority(), fields[j].Category.Priority()
		if pi != pj {
			return pi < pj
		}
		if fields[i].Confidence != fields[j].Confidence {
			return fields[i].Confidence < fields[j].Confidence
		}
		return fields[i].Name < fields[j].Name
	})
}

// Flag moves freshly extracted fields that failed evaluation into FLAGGED.
func (r *Router) Flag(rec *record.Record, names []string) []*record.Field {
	var flagged []*record.Field
	for _, name := range names {
		f, ok := rec.Fields[name]
		if !ok || f.Status != constants.FieldExtracted {
			continue
		}
		_ = Apply(f, constants.FieldFlagged)
		flagged = append(flagged, f)
	}
	return flagged
}

// PlanTier2 spends the tier-2 budget over flagged fields in priority order.
// Fields that lose out on budget go straight to UNRESOLVED, never silently
// absent. The returned decisions carry fields already moved to
// ESCALATED_TIER2.
func (r *Router) PlanTier2(flagged []*record.Field, budgets *Budgets) []Decision {
	contenders := make([]*record.Field, 0, len(flagged))
	for _, f := range flagged {
		if f.Status == constants.FieldFlagged {
			contenders = append(contenders, f)
		}
	}
	orderForBudget(contenders)

	var plan []Decision
	for _, f := range contenders {
		if budgets.Tier2 > 0 {
			budgets.Tier2--
			_ = Apply(f, constants.FieldEscalatedTier2)
			plan = append(plan, Decision{Field: f, Tier: constants.Tier2})
		} else {
			_ = Apply(f, constants.FieldUnresolved)
		}
	}
	return plan
}

// SettleTier2 decides each escalated field's fate after the tier-2 pass:
// resolved when confidence clears the threshold and validation passed;
// otherwise tier-3 for critical fields with remaining tier-3 budget;
// otherwise unresolved. Returns the tier-3 plan in deterministic order.
func (r *Router) SettleTier2(escalated []*record.Field, stillFlagged map[string]bool, budgets *Budgets) []Decision {
	var candidates []*record.Field
	for _, f := range escalated {
		if f.Status != constants.FieldEscalatedTier2 {
			continue
		}
		if !stillFlagged[f.Name] && f.Confidence >= r.threshold {
			_ = Apply(f, constants.FieldResolved)
			continue
		}
		if f.Category == constants.CategoryCritical {
			candidates = append(candidates, f)
		} else {
			_ = Apply(f, constants.FieldUnresolved)
		}
	}
	orderForBudget(candidates)

	var plan []Decision
	for _, f := range candidates {
		if budgets.Tier3 > 0 {
			budgets.Tier3--
			_ = Apply(f, constants.FieldEscalatedTier3)
			plan = append(plan, Decision{Field: f, Tier: constants.Tier3})
		} else {
			_ = Apply(f, constants.FieldUnresolved)
		}
	}
	return plan
}

// SettleTier3 closes out tier-3 escalations: terminal either way.
func (r *Router) SettleTier3(escalated []*record.Field, stillFlagged map[string]bool) {
	for _, f := range escalated {
		if f.Status != constants.FieldEscalatedTier3 {
			continue
		}
		if !stillFlagged[f.Name] && f.Confidence >= r.threshold {
			_ = Apply(f, constants.FieldResolved)
		} else {
			_ = Apply(f, constants.FieldUnresolved)
		}
	}
}

// SettleClean resolves fields that never needed escalation.
func (r *Router) SettleClean(rec *record.Record, flaggedNames []string) {
	flagged := make(map[string]bool, len(flaggedNames))
	for _, n := range flaggedNames {
		flagged[n] = true
	}
	for _, name := range rec.FieldNames() {
		f := rec.Fields[name]
		if f.Status == constants.FieldExtracted && !flagged[name] {
			_ = Apply(f, constants.FieldResolved)
		}
	}
}
