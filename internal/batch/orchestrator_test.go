package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docextract/constants"
	"docextract/internal/checkpoint"
	"docextract/internal/common"
	"docextract/internal/document"
	"docextract/internal/record"
	"docextract/internal/telemetry"
)

// fakeProcessor stands in for the extraction pipeline. It can fail chosen
// documents and cancel the batch context after a set number of calls, to
// simulate an operator interrupt mid-run.
type fakeProcessor struct {
	mu        sync.Mutex
	calls     map[string]int // every Process invocation
	succeeded map[string]int // invocations that returned a record
	total     int

	cancelAfter int // cancel the context when call number cancelAfter+1 starts
	cancel      context.CancelFunc
	failDocs    map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		calls:     make(map[string]int),
		succeeded: make(map[string]int),
		failDocs:  make(map[string]bool),
	}
}

func (p *fakeProcessor) Process(_ context.Context, doc *document.SourceDocument) (*record.Record, error) {
	p.mu.Lock()
	p.total++
	n := p.total
	p.calls[doc.ID]++
	p.mu.Unlock()

	if p.cancelAfter > 0 && n > p.cancelAfter {
		p.cancel()
		return nil, context.Canceled
	}
	if p.failDocs[doc.ID] {
		return nil, errors.New("model unavailable")
	}

	rec := record.New(doc.ID, doc.Name)
	f := rec.Field("total_units", constants.CategoryCritical)
	f.Apply(constants.Tier1, int64(164), 0.9, "", time.Now())
	rec.Finalize(0.75, time.Now())

	p.mu.Lock()
	p.succeeded[doc.ID]++
	p.mu.Unlock()
	return rec, nil
}

func trivialLoader(docID string) (*document.SourceDocument, error) {
	return &document.SourceDocument{
		ID:    docID,
		Pages: []document.Page{{Number: 1, Text: "unit mix total units 164"}},
	}, nil
}

func openStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoint.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func docIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%02d", i)
	}
	return ids
}

func countStates(entries []checkpoint.Entry) map[constants.DocState]int {
	out := make(map[constants.DocState]int)
	for _, e := range entries {
		out[e.State]++
	}
	return out
}

func TestRunProcessesAllDocuments(t *testing.T) {
	store := openStore(t)
	proc := newFakeProcessor()
	orch := NewOrchestrator(nil, store, proc, nil, trivialLoader, 4, 3)

	result, err := orch.Run(context.Background(), docIDs(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Interrupted {
		t.Error("uninterrupted run reported interrupted")
	}
	if len(result.Records) != 10 {
		t.Fatalf("records = %d, want 10", len(result.Records))
	}
	states := countStates(result.Checkpoint)
	if states[constants.DocComplete] != 10 {
		t.Errorf("states = %v, want 10 COMPLETE", states)
	}
	for id, n := range proc.succeeded {
		if n != 1 {
			t.Errorf("%s succeeded %d times, want exactly once", id, n)
		}
	}
}

func TestInterruptAndResume(t *testing.T) {
	store := openStore(t)
	ids := docIDs(36)

	// First run: the context is cancelled once 20 documents have been
	// processed; the 21st call aborts mid-flight.
	ctx, cancel := context.WithCancel(context.Background())
	proc := newFakeProcessor()
	proc.cancelAfter = 20
	proc.cancel = cancel
	orch := NewOrchestrator(nil, store, proc, nil, trivialLoader, 1, 3)

	result, err := orch.Run(ctx, ids)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if !result.Interrupted {
		t.Fatal("first run should report interruption")
	}
	states := countStates(result.Checkpoint)
	if states[constants.DocComplete] != 20 {
		t.Fatalf("after interrupt: %v, want 20 COMPLETE", states)
	}
	if states[constants.DocComplete]+states[constants.DocInProgress]+states[constants.DocPending] != 36 {
		t.Fatalf("documents lost from checkpoint: %v", states)
	}
	completedFirst := make(map[string]bool)
	for _, e := range result.Checkpoint {
		if e.State == constants.DocComplete {
			completedFirst[e.DocumentID] = true
		}
	}

	// Second run against the same checkpoint: only the remainder is
	// processed, including the document that was in flight at interrupt.
	proc2 := newFakeProcessor()
	orch2 := NewOrchestrator(nil, store, proc2, nil, trivialLoader, 1, 3)
	result2, err := orch2.Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result2.Interrupted {
		t.Error("second run reported interrupted")
	}
	states2 := countStates(result2.Checkpoint)
	if states2[constants.DocComplete] != 36 {
		t.Fatalf("after resume: %v, want all 36 COMPLETE", states2)
	}
	for id := range completedFirst {
		if proc2.calls[id] > 0 {
			t.Errorf("%s was completed before the interrupt but processed again", id)
		}
	}
	if len(result2.Records) != 36-20 {
		t.Errorf("resume produced %d records, want %d", len(result2.Records), 16)
	}
}

func TestResumeSummaryCountsWholeBatch(t *testing.T) {
	store := openStore(t)
	ids := docIDs(8)
	costs := telemetry.UnitCosts{Tier1: 0.001}

	// First run: interrupted after 5 documents.
	ctx, cancel := context.WithCancel(context.Background())
	proc := newFakeProcessor()
	proc.cancelAfter = 5
	proc.cancel = cancel
	result, err := NewOrchestrator(nil, store, proc, telemetry.NewAggregator(costs), trivialLoader, 1, 3).Run(ctx, ids)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if result.Summary.DocsCompleted != 5 {
		t.Errorf("interrupted summary completed = %d, want 5", result.Summary.DocsCompleted)
	}

	// Resume in a fresh process with a fresh aggregator: the summary must
	// still report the whole batch, not just the resumed remainder.
	proc2 := newFakeProcessor()
	result2, err := NewOrchestrator(nil, store, proc2, telemetry.NewAggregator(costs), trivialLoader, 1, 3).Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if proc2.total >= len(ids) {
		t.Fatalf("resume reprocessed the batch: %d calls", proc2.total)
	}
	if result2.Summary.DocsCompleted != int64(len(ids)) {
		t.Errorf("resumed summary completed = %d, want %d", result2.Summary.DocsCompleted, len(ids))
	}
	if result2.Summary.DocsFailed != 0 {
		t.Errorf("resumed summary failed = %d, want 0", result2.Summary.DocsFailed)
	}
}

func TestResumeOnFullyCompleteCheckpointDoesNothing(t *testing.T) {
	store := openStore(t)
	ids := docIDs(5)

	proc := newFakeProcessor()
	if _, err := NewOrchestrator(nil, store, proc, nil, trivialLoader, 2, 3).Run(context.Background(), ids); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	proc2 := newFakeProcessor()
	result, err := NewOrchestrator(nil, store, proc2, nil, trivialLoader, 2, 3).Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if proc2.total != 0 {
		t.Errorf("resume on a complete checkpoint made %d extraction calls, want 0", proc2.total)
	}
	if states := countStates(result.Checkpoint); states[constants.DocComplete] != 5 {
		t.Errorf("states = %v", states)
	}
}

func TestFailingDocumentIsIsolated(t *testing.T) {
	store := openStore(t)
	ids := docIDs(6)
	const maxAttempts = 3

	proc := newFakeProcessor()
	proc.failDocs["doc-03"] = true
	orch := NewOrchestrator(nil, store, proc, nil, trivialLoader, 2, maxAttempts)

	result, err := orch.Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	states := countStates(result.Checkpoint)
	if states[constants.DocComplete] != 5 || states[constants.DocFailed] != 1 {
		t.Fatalf("states = %v, want 5 COMPLETE and 1 FAILED", states)
	}
	if got := proc.calls["doc-03"]; got != maxAttempts {
		t.Errorf("failing document attempted %d times, want %d", got, maxAttempts)
	}
	for _, e := range result.Checkpoint {
		if e.DocumentID == "doc-03" {
			if e.LastError == "" {
				t.Error("failed document missing last error")
			}
			if e.Attempts != maxAttempts {
				t.Errorf("attempts = %d, want %d", e.Attempts, maxAttempts)
			}
		}
	}
	if len(result.Records) != 5 {
		t.Errorf("records = %d, want 5", len(result.Records))
	}
}

func TestUnreadableDocumentFailsWithoutStoppingBatch(t *testing.T) {
	store := openStore(t)
	ids := docIDs(4)

	loader := func(docID string) (*document.SourceDocument, error) {
		if docID == "doc-01" {
			return nil, fmt.Errorf("%w: truncated page JSON", common.ErrDocumentUnreadable)
		}
		return trivialLoader(docID)
	}
	proc := newFakeProcessor()
	result, err := NewOrchestrator(nil, store, proc, nil, loader, 2, 2).Run(context.Background(), ids)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	states := countStates(result.Checkpoint)
	if states[constants.DocComplete] != 3 || states[constants.DocFailed] != 1 {
		t.Errorf("states = %v, want 3 COMPLETE and 1 FAILED", states)
	}
	if proc.calls["doc-01"] != 0 {
		t.Errorf("unreadable document reached the pipeline %d times", proc.calls["doc-01"])
	}
}
