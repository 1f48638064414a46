// Package telemetry accumulates batch-wide quality and cost counters.
// Workers update it concurrently, so everything is atomic increments on
// fixed slots; no locks, no shared maps.
package telemetry

import (
	"sync/atomic"

	"docextract/constants"
	"docextract/internal/record"
)

const (
	confidenceBuckets = 10
	numCategories     = 4
)

// categoryIndex maps field categories onto fixed counter slots.
var categoryOrder = [numCategories]constants.FieldCategory{
	constants.CategoryCritical,
	constants.CategoryHigh,
	constants.CategoryMedium,
	constants.CategoryLow,
}

func categoryIndex(c constants.FieldCategory) int {
	for i, cat := range categoryOrder {
		if cat == c {
			return i
		}
	}
	return len(categoryOrder) - 1
}

// UnitCosts is the per-call dollar cost of each tier, used for the savings
// estimate against an always-top-tier baseline.
type UnitCosts struct {
	Tier1 float64
	Tier2 float64
	Tier3 float64
}

func (u UnitCosts) ForTier(t constants.Tier) float64 {
	switch t {
	case constants.Tier2:
		return u.Tier2
	case constants.Tier3:
		return u.Tier3
	}
	return u.Tier1
}

// Aggregator holds all batch counters. Costs are stored in microdollars so
// they fit atomic int64 slots.
type Aggregator struct {
	costs UnitCosts

	docsCompleted int64
	docsFailed    int64
	docsTier1Only int64
	docsEscalated int64

	callsPerTier     [4]int64 // index by Tier (1..3)
	costMicro        int64
	fieldsPerTier    [4]int64 // fields whose final value came from this tier
	fieldsUnresolved int64
	fieldsResolved   int64

	naiveTokens   int64
	chunkedTokens int64

	confDist [numCategories * confidenceBuckets]int64
}

func NewAggregator(costs UnitCosts) *Aggregator {
	return &Aggregator{costs: costs}
}

// AddCalls accounts inference calls for a tier.
func (a *Aggregator) AddCalls(tier constants.Tier, calls int) {
	if tier < constants.Tier1 || tier > constants.Tier3 || calls <= 0 {
		return
	}
	atomic.AddInt64(&a.callsPerTier[tier], int64(calls))
	atomic.AddInt64(&a.costMicro, int64(a.costs.ForTier(tier)*float64(calls)*1e6))
}

// AddTokens accounts the chunking reduction for one document.
func (a *Aggregator) AddTokens(naive, chunked int) {
	atomic.AddInt64(&a.naiveTokens, int64(naive))
	atomic.AddInt64(&a.chunkedTokens, int64(chunked))
}

// RecordDocument folds one finalized record into the aggregate.
func (a *Aggregator) RecordDocument(rec *record.Record) {
	atomic.AddInt64(&a.docsCompleted, 1)
	if rec.Escalated() {
		atomic.AddInt64(&a.docsEscalated, 1)
	} else {
		atomic.AddInt64(&a.docsTier1Only, 1)
	}
	for _, name := range rec.FieldNames() {
		f := rec.Fields[name]
		if f.TierUsed >= constants.Tier1 && f.TierUsed <= constants.Tier3 {
			atomic.AddInt64(&a.fieldsPerTier[f.TierUsed], 1)
		}
		if f.Status == constants.FieldResolved {
			atomic.AddInt64(&a.fieldsResolved, 1)
		} else {
			atomic.AddInt64(&a.fieldsUnresolved, 1)
		}
		bucket := int(f.Confidence * confidenceBuckets)
		if bucket >= confidenceBuckets {
			bucket = confidenceBuckets - 1
		}
		atomic.AddInt64(&a.confDist[categoryIndex(f.Category)*confidenceBuckets+bucket], 1)
	}
}

// RecordFailure accounts a permanently failed document.
func (a *Aggregator) RecordFailure() {
	atomic.AddInt64(&a.docsFailed, 1)
}

// SetDocsCompleted replaces the completed count with a checkpoint-derived
// total. A resumed run only calls RecordDocument for the remainder, so the
// aggregate must come from the checkpoint, not this process.
func (a *Aggregator) SetDocsCompleted(n int64) {
	atomic.StoreInt64(&a.docsCompleted, n)
}

// Snapshot is a consistent-enough copy for reporting once workers stop.
type Snapshot struct {
	DocsCompleted int64
	DocsFailed    int64
	DocsTier1Only int64
	DocsEscalated int64

	CallsPerTier  map[constants.Tier]int64
	FieldsPerTier map[constants.Tier]int64

	FieldsResolved   int64
	FieldsUnresolved int64

	EstimatedCost   float64
	BaselineCost    float64 // every call at the top tier
	EstimatedSaving float64

	NaiveTokens    int64
	ChunkedTokens  int64
	TokenReduction float64 // 1 - chunked/naive

	// ConfidenceDist[category][bucket] counts fields with confidence in
	// [bucket/10, (bucket+1)/10).
	ConfidenceDist map[constants.FieldCategory][]int64
}

func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		DocsCompleted: atomic.LoadInt64(&a.docsCompleted),
		DocsFailed:    atomic.LoadInt64(&a.docsFailed),
		DocsTier1Only: atomic.LoadInt64(&a.docsTier1Only),
		DocsEscalated: atomic.LoadInt64(&a.docsEscalated),
		CallsPerTier:  make(map[constants.Tier]int64),
		FieldsPerTier: make(map[constants.Tier]int64),

		FieldsResolved:   atomic.LoadInt64(&a.fieldsResolved),
		FieldsUnresolved: atomic.LoadInt64(&a.fieldsUnresolved),

		NaiveTokens:    atomic.LoadInt64(&a.naiveTokens),
		ChunkedTokens:  atomic.LoadInt64(&a.chunkedTokens),
		ConfidenceDist: make(map[constants.FieldCategory][]int64),
	}

	var totalCalls int64
	for _, t := range []constants.Tier{constants.Tier1, constants.Tier2, constants.Tier3} {
		calls := atomic.LoadInt64(&a.callsPerTier[t])
		s.CallsPerTier[t] = calls
		s.FieldsPerTier[t] = atomic.LoadInt64(&a.fieldsPerTier[t])
		totalCalls += calls
	}

	s.EstimatedCost = float64(atomic.LoadInt64(&a.costMicro)) / 1e6
	s.BaselineCost = a.costs.Tier3 * float64(totalCalls)
	s.EstimatedSaving = s.BaselineCost - s.EstimatedCost

	if s.NaiveTokens > 0 {
		s.TokenReduction = 1 - float64(s.ChunkedTokens)/float64(s.NaiveTokens)
	}

	for i, cat := range categoryOrder {
		buckets := make([]int64, confidenceBuckets)
		for b := 0; b < confidenceBuckets; b++ {
			buckets[b] = atomic.LoadInt64(&a.confDist[i*confidenceBuckets+b])
		}
		s.ConfidenceDist[cat] = buckets
	}
	return s
}
