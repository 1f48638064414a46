package model

import (
	"sync/atomic"

	"docextract/constants"
)

// TierGate pauses escalation to a tier for the remainder of a batch once
// its quota is exhausted. Lower tiers keep working. Safe for concurrent
// workers.
type TierGate struct {
	paused [4]atomic.Bool // indexed by Tier (1..3)
}

func NewTierGate() *TierGate {
	return &TierGate{}
}

// Pause shuts the tier for the rest of the batch.
func (g *TierGate) Pause(tier constants.Tier) {
	if tier >= constants.Tier1 && tier <= constants.Tier3 {
		g.paused[tier].Store(true)
	}
}

// Paused reports whether the tier is shut.
func (g *TierGate) Paused(tier constants.Tier) bool {
	if tier < constants.Tier1 || tier > constants.Tier3 {
		return false
	}
	return g.paused[tier].Load()
}
