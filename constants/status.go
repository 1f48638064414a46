package constants

// FieldStatus is the canonical lifecycle status of an extracted field.
type FieldStatus string

// Stable values (store these exact strings in records and the checkpoint).
const (
	FieldExtracted      FieldStatus = "EXTRACTED"       // tier-1 pass done
	FieldFlagged        FieldStatus = "FLAGGED"         // low confidence or validation failure
	FieldEscalatedTier2 FieldStatus = "ESCALATED_TIER2" // re-extraction at tier 2 in flight/done
	FieldEscalatedTier3 FieldStatus = "ESCALATED_TIER3" // re-extraction at tier 3 in flight/done
	FieldResolved       FieldStatus = "RESOLVED"        // terminal success
	FieldUnresolved     FieldStatus = "UNRESOLVED"      // terminal, kept at best-effort value
)

// Terminal reports whether the status ends a field's lifecycle.
func (s FieldStatus) Terminal() bool {
	return s == FieldResolved || s == FieldUnresolved
}

// Tier identifies an extraction capability level. Higher is more capable
// and more expensive.
type Tier int

const (
	Tier1 Tier = 1 // local model
	Tier2 Tier = 2 // first cloud escalation target
	Tier3 Tier = 3 // top cloud tier, critical fields only
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	}
	return "unknown"
}

// DocState is the per-document state tracked by the batch checkpoint.
type DocState string

const (
	DocPending    DocState = "PENDING"
	DocInProgress DocState = "IN_PROGRESS"
	DocComplete   DocState = "COMPLETE"
	DocFailed     DocState = "FAILED"
)

// rank orders states along the only legal progression. Transitions must
// never move to a lower rank; COMPLETE and FAILED are both terminal.
func (s DocState) rank() int {
	switch s {
	case DocPending:
		return 0
	case DocInProgress:
		return 1
	case DocComplete, DocFailed:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next respects checkpoint
// monotonicity. FAILED→PENDING is the one sanctioned exception: a failed
// document may be requeued until its attempt cap is reached.
func (s DocState) CanTransition(next DocState) bool {
	if s == DocFailed && next == DocPending {
		return true
	}
	return next.rank() > s.rank()
}
