// Package pipeline drives one document end to end: structure analysis,
// chunking, tier-1 extraction, validation, and budgeted escalation to the
// cloud tiers.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docextract/constants"
	"docextract/internal/analyze"
	"docextract/internal/chunkdoc"
	"docextract/internal/common"
	"docextract/internal/document"
	"docextract/internal/fieldschema"
	"docextract/internal/model"
	"docextract/internal/record"
	"docextract/internal/route"
	"docextract/internal/telemetry"
	"docextract/internal/validate"
)

// Config holds the per-document processing knobs.
type Config struct {
	MaxChunkTokens      int
	OverlapTokens       int
	ConfidenceThreshold float64
	Tier2Budget         int
	Tier3Budget         int
	UnitCosts           telemetry.UnitCosts
}

// Processor composes the pipeline stages. Tier adapters are expected to be
// wrapped in model.Degrading so a field failure degrades instead of
// erroring.
type Processor struct {
	Logger    *slog.Logger
	Schema    *fieldschema.Schema
	Tier1     model.Extractor
	Tier2     model.Extractor
	Tier3     model.Extractor
	Validator *validate.Validator
	Router    *route.Router
	Limiter   *rate.Limiter // shared token bucket protecting cloud tiers
	Gate      *model.TierGate
	Metrics   *telemetry.Aggregator
	Cfg       Config
}

func NewProcessor(
	logger *slog.Logger,
	schema *fieldschema.Schema,
	tier1, tier2, tier3 model.Extractor,
	validator *validate.Validator,
	router *route.Router,
	limiter *rate.Limiter,
	gate *model.TierGate,
	metrics *telemetry.Aggregator,
	cfg Config,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = model.NewTierGate()
	}
	return &Processor{
		Logger:    logger,
		Schema:    schema,
		Tier1:     tier1,
		Tier2:     tier2,
		Tier3:     tier3,
		Validator: validator,
		Router:    router,
		Limiter:   limiter,
		Gate:      gate,
		Metrics:   metrics,
		Cfg:       cfg,
	}
}

// Process runs the full pipeline for one document and returns its
// finalized record. Field-level failures degrade; only document-level
// problems (unreadable input, cancellation) surface as errors.
func (p *Processor) Process(ctx context.Context, doc *document.SourceDocument) (*record.Record, error) {
	start := time.Now()
	rec := record.New(doc.ID, doc.Name)

	sections := analyze.Analyze(doc)
	chunks, stats := chunkdoc.Build(doc, sections, chunkdoc.Options{
		MaxTokens:     p.Cfg.MaxChunkTokens,
		OverlapTokens: p.Cfg.OverlapTokens,
	})
	rec.NaiveTokens = stats.NaiveTokens
	rec.ChunkedTokens = stats.ChunkedTokens
	if p.Metrics != nil {
		p.Metrics.AddTokens(stats.NaiveTokens, stats.ChunkedTokens)
	}
	p.Logger.Info("pipeline.chunked",
		"doc_id", doc.ID,
		"sections", len(sections),
		"chunks", len(chunks),
		"skipped_pages", stats.SkippedPages,
		"token_ratio", stats.Ratio,
	)

	// Every schema field exists in the record from the start, so nothing
	// can end up silently absent.
	for _, spec := range p.Schema.Fields {
		rec.Field(spec.Name, spec.Category)
	}

	// Tier-1 pass: one blocking call per chunk, best answer per field wins.
	fieldSource := p.tier1Pass(ctx, doc, rec, chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec.AddModel(p.Tier1.Model())

	flaggedNames := p.Validator.Evaluate(rec)
	p.Router.SettleClean(rec, flaggedNames)
	flagged := p.Router.Flag(rec, flaggedNames)

	budgets := route.Budgets{Tier2: p.Cfg.Tier2Budget, Tier3: p.Cfg.Tier3Budget}

	// Tier-2 round.
	plan2 := p.Router.PlanTier2(flagged, &budgets)
	if len(plan2) > 0 {
		p.escalate(ctx, doc, sections, rec, fieldSource, plan2, p.Tier2, constants.Tier2)
		stillFlagged := toSet(p.Validator.Evaluate(rec))
		plan3 := p.Router.SettleTier2(decisionFields(plan2), stillFlagged, &budgets)

		// Tier-3 round, critical fields only.
		if len(plan3) > 0 {
			p.escalate(ctx, doc, sections, rec, fieldSource, plan3, p.Tier3, constants.Tier3)
			stillFlagged = toSet(p.Validator.Evaluate(rec))
			p.Router.SettleTier3(decisionFields(plan3), stillFlagged)
		}
	}
	// An interrupt mid-escalation aborts the in-flight calls; finalizing
	// here would record the degraded results as COMPLETE. Surface it so
	// the checkpoint requeues the document instead.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec.Finalize(p.Cfg.ConfidenceThreshold, time.Now())
	rec.ProcessingTime = time.Since(start)

	p.Logger.Info("pipeline.done",
		"doc_id", doc.ID,
		"fields", len(rec.Fields),
		"escalated", rec.Escalated(),
		"final_confidence", rec.FinalConfidence,
		"cost", rec.EstimatedCost,
		"elapsed_ms", rec.ProcessingTime.Milliseconds(),
	)
	return rec, nil
}

// tier1Pass extracts every schema field from every chunk and merges the
// results, remembering which section each accepted answer came from so
// escalation can re-read the original text.
func (p *Processor) tier1Pass(ctx context.Context, doc *document.SourceDocument, rec *record.Record, chunks []chunkdoc.Chunk) map[string]string {
	fieldSource := make(map[string]string)

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return fieldSource
		}
		results, usage, err := p.Tier1.Extract(ctx, model.Request{
			DocumentID: doc.ID,
			SectionRef: chunkRef(chunk),
			Text:       chunk.Text,
			Fields:     p.Schema.Fields,
		})
		p.account(constants.Tier1, usage, rec)
		if err != nil {
			// Degrading wrapper only lets quota errors through; tier 1
			// is local, so just log and move to the next chunk.
			p.Logger.Warn("pipeline.tier1_chunk_failed", "doc_id", doc.ID, "chunk", chunk.Index, "error", err)
			continue
		}
		now := time.Now()
		for _, spec := range p.Schema.Fields {
			res, ok := results[spec.Name]
			if !ok {
				continue
			}
			f := rec.Field(spec.Name, spec.Category)
			if f.Apply(constants.Tier1, res.Value, res.Confidence, res.Rationale, now) && len(chunk.SectionIDs) > 0 {
				fieldSource[spec.Name] = chunk.SectionIDs[0]
			}
		}
	}
	return fieldSource
}

// escalate re-extracts the planned fields at the given tier, concurrently
// per field, each call rate-limited by the shared token bucket. The tier's
// quota gate is honored before and updated after each call.
func (p *Processor) escalate(
	ctx context.Context,
	doc *document.SourceDocument,
	sections []document.Section,
	rec *record.Record,
	fieldSource map[string]string,
	plan []route.Decision,
	extractor model.Extractor,
	tier constants.Tier,
) {
	if extractor == nil {
		return
	}

	var wg sync.WaitGroup
	var mu sync.Mutex // guards rec mutation and accounting from field goroutines

	for _, dec := range plan {
		if p.Gate.Paused(tier) {
			continue
		}
		wg.Add(1)
		go func(dec route.Decision) {
			defer wg.Done()

			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					return
				}
			}
			if p.Gate.Paused(tier) || ctx.Err() != nil {
				return
			}

			f := dec.Field
			text, ref := p.sourceText(doc, sections, fieldSource[f.Name])
			spec, _ := p.Schema.Field(f.Name)

			results, usage, err := extractor.Extract(ctx, model.Request{
				DocumentID: doc.ID,
				SectionRef: ref,
				Text:       text,
				Fields:     []fieldschema.FieldSpec{spec},
				PriorValues: map[string]model.PriorValue{
					f.Name: {Value: f.Value, Conf: f.Confidence, Rationale: f.Rationale},
				},
			})

			mu.Lock()
			defer mu.Unlock()
			p.account(tier, usage, rec)
			rec.AddModel(extractor.Model())
			if err != nil {
				if errors.Is(err, common.ErrModelQuotaExceeded) {
					p.Logger.Warn("pipeline.tier_quota_exhausted", "tier", tier.String(), "doc_id", doc.ID)
					p.Gate.Pause(tier)
				}
				return
			}
			if res, ok := results[f.Name]; ok {
				f.Apply(tier, res.Value, res.Confidence, res.Rationale, time.Now())
			}
		}(dec)
	}
	wg.Wait()
}

// sourceText returns the unchunked original text for a field's source
// section. Fields with no known source (tier 1 never found them) fall back
// to the whole document, skipped sections included.
func (p *Processor) sourceText(doc *document.SourceDocument, sections []document.Section, sectionID string) (string, string) {
	if sectionID != "" {
		for _, sec := range sections {
			if sec.ID == sectionID {
				return sec.Text(doc), sec.ID
			}
		}
	}
	return doc.Text(), "full-document"
}

func (p *Processor) account(tier constants.Tier, usage model.Usage, rec *record.Record) {
	if usage.Calls == 0 {
		return
	}
	if p.Metrics != nil {
		p.Metrics.AddCalls(tier, usage.Calls)
	}
	rec.EstimatedCost += p.Cfg.UnitCosts.ForTier(tier) * float64(usage.Calls)
}

func chunkRef(c chunkdoc.Chunk) string {
	if len(c.SectionIDs) == 1 {
		return c.SectionIDs[0]
	}
	return "chunk-" + strconv.Itoa(c.Index)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func decisionFields(plan []route.Decision) []*record.Field {
	fields := make([]*record.Field, len(plan))
	for i, d := range plan {
		fields[i] = d.Field
	}
	return fields
}
