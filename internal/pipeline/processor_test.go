package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"docextract/constants"
	"docextract/internal/common"
	"docextract/internal/document"
	"docextract/internal/fieldschema"
	"docextract/internal/model"
	"docextract/internal/route"
	"docextract/internal/telemetry"
	"docextract/internal/validate"
)

// tierStub answers every requested field from a fixed table.
type tierStub struct {
	name    string
	answers map[string]model.FieldResult
	err     error
	cancel  context.CancelFunc // cancels the run mid-call, like an operator interrupt
	calls   int
}

func (s *tierStub) Model() string { return s.name }

func (s *tierStub) Extract(_ context.Context, req model.Request) (map[string]model.FieldResult, model.Usage, error) {
	s.calls++
	usage := model.Usage{Calls: 1}
	if s.cancel != nil {
		s.cancel()
		return nil, usage, context.Canceled
	}
	if s.err != nil {
		return nil, usage, s.err
	}
	out := make(map[string]model.FieldResult, len(req.Fields))
	for _, f := range req.Fields {
		if r, ok := s.answers[f.Name]; ok {
			out[f.Name] = r
		} else {
			out[f.Name] = model.FieldResult{Name: f.Name}
		}
	}
	return out, usage, nil
}

func testSchema() *fieldschema.Schema {
	return &fieldschema.Schema{
		DocumentType: "housing_application",
		Fields: []fieldschema.FieldSpec{
			{Name: "units_1br", Type: fieldschema.TypeInteger, Category: constants.CategoryHigh, Required: true},
			{Name: "units_2br", Type: fieldschema.TypeInteger, Category: constants.CategoryHigh, Required: true},
			{Name: "total_units", Type: fieldschema.TypeInteger, Category: constants.CategoryCritical, Required: true,
				Components: []string{"units_1br", "units_2br"}},
			{Name: "developer_name", Type: fieldschema.TypeString, Category: constants.CategoryMedium},
		},
	}
}

func testDocument() *document.SourceDocument {
	text := "UNIT MIX\nThe unit mix table lists 99 one-bedroom and 65 two-bedroom units. " +
		strings.Repeat("Application content describing the development budget and sponsor. ", 5)
	return &document.SourceDocument{
		ID:   "doc-1",
		Name: "app.json",
		Pages: []document.Page{
			{Number: 1, Text: text},
			{Number: 2, Text: text},
		},
	}
}

func newTestProcessor(t1, t2, t3 model.Extractor, cfg Config) *Processor {
	schema := testSchema()
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.75
	}
	cfg.UnitCosts = telemetry.UnitCosts{Tier1: 0.001, Tier2: 0.02, Tier3: 0.15}
	validator := validate.New(schema, validate.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		FinancialTolerance:  0.005,
	})
	return NewProcessor(nil, schema, t1, t2, t3,
		validator, route.New(cfg.ConfidenceThreshold),
		rate.NewLimiter(rate.Inf, 1), nil, telemetry.NewAggregator(telemetry.UnitCosts{Tier1: 0.001, Tier2: 0.02, Tier3: 0.15}), cfg)
}

func TestProcessCleanDocumentStaysOnTier1(t *testing.T) {
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.9},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.9},
		"total_units":    {Name: "total_units", Value: int64(164), Confidence: 0.92},
		"developer_name": {Name: "developer_name", Value: "Acme Housing LLC", Confidence: 0.85},
	}}
	tier2 := &tierStub{name: "claude-3-5-haiku-latest"}
	p := newTestProcessor(tier1, tier2, nil, Config{Tier2Budget: 5, Tier3Budget: 2})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tier2.calls != 0 {
		t.Errorf("clean document escalated: %d tier-2 calls", tier2.calls)
	}
	if rec.Escalated() {
		t.Error("record reports escalation")
	}
	for name, f := range rec.Fields {
		if f.Status != constants.FieldResolved {
			t.Errorf("%s status = %s, want %s", name, f.Status, constants.FieldResolved)
		}
	}
	if len(rec.ModelsUsed) != 1 || rec.ModelsUsed[0] != "llama3.1:8b" {
		t.Errorf("models used = %v", rec.ModelsUsed)
	}
}

func TestProcessEscalatesAndResolves(t *testing.T) {
	// Tier 1 gets the total wrong (fails the component sum) and is unsure
	// about the developer.
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.9},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.9},
		"total_units":    {Name: "total_units", Value: int64(160), Confidence: 0.8},
		"developer_name": {Name: "developer_name", Value: "Acme", Confidence: 0.5},
	}}
	tier2 := &tierStub{name: "claude-3-5-haiku-latest", answers: map[string]model.FieldResult{
		"total_units":    {Name: "total_units", Value: int64(164), Confidence: 0.95},
		"developer_name": {Name: "developer_name", Value: "Acme Housing LLC", Confidence: 0.9},
	}}
	p := newTestProcessor(tier1, tier2, nil, Config{Tier2Budget: 5, Tier3Budget: 2})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tier2.calls != 2 {
		t.Errorf("tier-2 calls = %d, want 2 (one per flagged field)", tier2.calls)
	}

	total := rec.Fields["total_units"]
	if total.Value != int64(164) || total.TierUsed != constants.Tier2 {
		t.Errorf("total_units = %v at %s, want 164 at tier2", total.Value, total.TierUsed)
	}
	if total.Status != constants.FieldResolved {
		t.Errorf("total_units status = %s, want %s", total.Status, constants.FieldResolved)
	}
	if dev := rec.Fields["developer_name"]; dev.Status != constants.FieldResolved {
		t.Errorf("developer_name status = %s, want %s", dev.Status, constants.FieldResolved)
	}
	// Untouched fields resolved on tier 1.
	if f := rec.Fields["units_1br"]; f.TierUsed != constants.Tier1 || f.Status != constants.FieldResolved {
		t.Errorf("units_1br = tier %s status %s", f.TierUsed, f.Status)
	}
	if !rec.Escalated() {
		t.Error("record should report escalation")
	}
	found := false
	for _, m := range rec.ModelsUsed {
		if m == "claude-3-5-haiku-latest" {
			found = true
		}
	}
	if !found {
		t.Errorf("models used = %v, missing tier-2 model", rec.ModelsUsed)
	}
}

func TestProcessBudgetExhaustionLeavesUnresolved(t *testing.T) {
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.4},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.4},
		"total_units":    {Name: "total_units", Value: int64(164), Confidence: 0.4},
		"developer_name": {Name: "developer_name", Value: "Acme", Confidence: 0.4},
	}}
	// Tier 2 never lifts confidence, so nothing resolves there either.
	tier2 := &tierStub{name: "claude-3-5-haiku-latest", answers: map[string]model.FieldResult{
		"total_units": {Name: "total_units", Value: int64(164), Confidence: 0.5},
	}}
	p := newTestProcessor(tier1, tier2, nil, Config{Tier2Budget: 1, Tier3Budget: 0})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if tier2.calls != 1 {
		t.Errorf("tier-2 calls = %d, want exactly the budget", tier2.calls)
	}
	// total_units is critical with the lowest-priority tie broken by name,
	// so it gets the single slot; everything else lands unresolved.
	for name, f := range rec.Fields {
		if !f.Status.Terminal() {
			t.Errorf("%s left non-terminal: %s", name, f.Status)
		}
		if f.Status == constants.FieldResolved {
			t.Errorf("%s resolved despite low confidence", name)
		}
	}
}

func TestProcessQuotaPausesTier(t *testing.T) {
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.3},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.3},
		"total_units":    {Name: "total_units", Value: int64(164), Confidence: 0.3},
		"developer_name": {Name: "developer_name", Value: "Acme", Confidence: 0.3},
	}}
	tier2 := &tierStub{name: "claude-3-5-haiku-latest", err: common.ErrModelQuotaExceeded}
	p := newTestProcessor(tier1, tier2, nil, Config{Tier2Budget: 4, Tier3Budget: 0})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("quota during escalation must not fail the document: %v", err)
	}
	if !p.Gate.Paused(constants.Tier2) {
		t.Error("tier 2 not paused after quota error")
	}
	for name, f := range rec.Fields {
		if !f.Status.Terminal() {
			t.Errorf("%s left non-terminal: %s", name, f.Status)
		}
	}
	// Tier-1 values survive as best effort.
	if got := rec.Fields["total_units"].Value; got != int64(164) {
		t.Errorf("total_units = %v, want the tier-1 value kept", got)
	}
}

func TestProcessCancelledMidEscalationSurfacesError(t *testing.T) {
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.9},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.9},
		"total_units":    {Name: "total_units", Value: int64(160), Confidence: 0.8},
		"developer_name": {Name: "developer_name", Value: "Acme", Confidence: 0.5},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tier2 := &tierStub{name: "claude-3-5-haiku-latest", cancel: cancel}
	p := newTestProcessor(tier1, tier2, nil, Config{Tier2Budget: 5, Tier3Budget: 2})

	// If this returned a finalized record, the caller would checkpoint the
	// document COMPLETE with its escalations silently aborted.
	rec, err := p.Process(ctx, testDocument())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Process err = %v, want context.Canceled", err)
	}
	if rec != nil {
		t.Errorf("got a record despite cancellation: %+v", rec)
	}
}

func TestProcessEveryFieldPresent(t *testing.T) {
	// Tier 1 never mentions developer_name at all.
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":   {Name: "units_1br", Value: int64(99), Confidence: 0.9},
		"units_2br":   {Name: "units_2br", Value: int64(65), Confidence: 0.9},
		"total_units": {Name: "total_units", Value: int64(164), Confidence: 0.9},
	}}
	p := newTestProcessor(tier1, &tierStub{name: "t2"}, nil, Config{Tier2Budget: 0, Tier3Budget: 0})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	f, ok := rec.Fields["developer_name"]
	if !ok {
		t.Fatal("unanswered field missing from record")
	}
	if f.Value != nil || f.Confidence != 0 {
		t.Errorf("unanswered field = %+v, want nil at 0", f)
	}
	if f.Status != constants.FieldUnresolved {
		t.Errorf("unanswered field status = %s, want %s", f.Status, constants.FieldUnresolved)
	}
}

func TestProcessRecordsTokenStats(t *testing.T) {
	tier1 := &tierStub{name: "llama3.1:8b", answers: map[string]model.FieldResult{
		"units_1br":      {Name: "units_1br", Value: int64(99), Confidence: 0.9},
		"units_2br":      {Name: "units_2br", Value: int64(65), Confidence: 0.9},
		"total_units":    {Name: "total_units", Value: int64(164), Confidence: 0.9},
		"developer_name": {Name: "developer_name", Value: "Acme Housing LLC", Confidence: 0.9},
	}}
	p := newTestProcessor(tier1, nil, nil, Config{Tier2Budget: 0})

	rec, err := p.Process(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rec.NaiveTokens == 0 || rec.ChunkedTokens == 0 {
		t.Errorf("token stats not recorded: naive=%d chunked=%d", rec.NaiveTokens, rec.ChunkedTokens)
	}
	if rec.EstimatedCost <= 0 {
		t.Errorf("estimated cost = %v, want positive", rec.EstimatedCost)
	}
	if rec.ProcessingTime < 0 {
		t.Errorf("processing time = %v", rec.ProcessingTime)
	}
	if rec.FinalizedAt.IsZero() {
		t.Error("record not finalized")
	}
}
