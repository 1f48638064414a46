// Package batch drives many documents through the pipeline with a bounded
// worker pool, checkpointed so an interrupted run resumes without
// reprocessing or losing documents.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"docextract/constants"
	"docextract/internal/checkpoint"
	"docextract/internal/document"
	"docextract/internal/record"
	"docextract/internal/telemetry"
)

// DocProcessor is the per-document pipeline; narrowed to an interface so
// orchestration is testable with fakes.
type DocProcessor interface {
	Process(ctx context.Context, doc *document.SourceDocument) (*record.Record, error)
}

// Loader resolves a document ID to its parsed pages. Returning
// ErrDocumentUnreadable fails the document without touching the batch.
type Loader func(docID string) (*document.SourceDocument, error)

// Orchestrator owns the batch run.
type Orchestrator struct {
	Logger      *slog.Logger
	Store       *checkpoint.Store
	Processor   DocProcessor
	Metrics     *telemetry.Aggregator
	Load        Loader
	Workers     int
	MaxAttempts int
}

func NewOrchestrator(logger *slog.Logger, store *checkpoint.Store, proc DocProcessor, metrics *telemetry.Aggregator, load Loader, workers, maxAttempts int) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Orchestrator{
		Logger:      logger,
		Store:       store,
		Processor:   proc,
		Metrics:     metrics,
		Load:        load,
		Workers:     workers,
		MaxAttempts: maxAttempts,
	}
}

// Result is what a batch run produced.
type Result struct {
	Records     []*record.Record
	Checkpoint  []checkpoint.Entry
	Summary     telemetry.Snapshot
	Interrupted bool
}

// Run processes docIDs to completion or cancellation. Completed documents
// from a previous run are skipped entirely; failed ones are requeued until
// the attempt cap. A document is marked COMPLETE only after its record is
// fully finalized, so a crash at any point leaves the checkpoint
// trustworthy.
func (o *Orchestrator) Run(ctx context.Context, docIDs []string) (*Result, error) {
	if err := o.Store.Init(ctx, docIDs); err != nil {
		return nil, err
	}

	result := &Result{}
	var mu sync.Mutex

	// Each round requeues retryable failures, so a document gets up to
	// MaxAttempts passes within a single run before it is left FAILED.
	for round := 0; round < o.MaxAttempts; round++ {
		if ctx.Err() != nil {
			break
		}
		requeued, err := o.Store.Requeue(ctx, o.MaxAttempts)
		if err != nil {
			return nil, err
		}
		pending, err := o.Store.Pending(ctx)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			break
		}
		o.Logger.Info("batch.round",
			"round", round,
			"pending", len(pending),
			"requeued", requeued,
			"workers", o.Workers,
		)
		o.runRound(ctx, pending, func(rec *record.Record) {
			mu.Lock()
			result.Records = append(result.Records, rec)
			mu.Unlock()
		})
	}

	result.Interrupted = ctx.Err() != nil

	// Document counts come from the checkpoint, not this process: on a
	// resumed run the earlier documents were completed by a previous run.
	entries, err := o.Store.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	result.Checkpoint = entries
	if o.Metrics != nil {
		var completed int64
		for _, e := range entries {
			switch {
			case e.State == constants.DocComplete:
				completed++
			case e.State == constants.DocFailed && e.Attempts >= o.MaxAttempts:
				o.Metrics.RecordFailure()
			}
		}
		o.Metrics.SetDocsCompleted(completed)
		result.Summary = o.Metrics.Snapshot()
	}

	o.Logger.Info("batch.done",
		"records", len(result.Records),
		"interrupted", result.Interrupted,
	)
	return result, nil
}

// runRound pushes the pending IDs through the worker pool.
func (o *Orchestrator) runRound(ctx context.Context, pending []string, collect func(*record.Record)) {
	jobs := make(chan string)
	var wg sync.WaitGroup

	for w := 0; w < o.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				o.processOne(ctx, id, collect)
			}
		}()
	}

feed:
	for _, id := range pending {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()
}

func (o *Orchestrator) processOne(ctx context.Context, docID string, collect func(*record.Record)) {
	if ctx.Err() != nil {
		return
	}
	if err := o.Store.MarkInProgress(ctx, docID); err != nil {
		o.Logger.Error("batch.claim_failed", "doc_id", docID, "error", err)
		return
	}

	doc, err := o.Load(docID)
	if err != nil {
		o.Logger.Error("batch.document_unreadable", "doc_id", docID, "error", err)
		o.markFailed(ctx, docID, err)
		return
	}

	rec, err := o.Processor.Process(ctx, doc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted mid-flight: the row stays IN_PROGRESS and the
			// next run requeues it. Never COMPLETE without a finalized
			// record, never lost.
			o.Logger.Warn("batch.interrupted", "doc_id", docID)
			return
		}
		o.Logger.Error("batch.process_failed", "doc_id", docID, "error", err)
		o.markFailed(ctx, docID, err)
		return
	}

	// Record is finalized; only now may the checkpoint say COMPLETE.
	if err := o.Store.MarkComplete(ctx, docID); err != nil {
		o.Logger.Error("batch.mark_complete_failed", "doc_id", docID, "error", err)
		return
	}
	if o.Metrics != nil {
		o.Metrics.RecordDocument(rec)
	}
	collect(rec)
}

func (o *Orchestrator) markFailed(ctx context.Context, docID string, cause error) {
	// Even when ctx is cancelled the failure must still be durably
	// recorded, or the document would be double-counted on resume.
	if err := o.Store.MarkFailed(context.WithoutCancel(ctx), docID, cause); err != nil {
		o.Logger.Error("batch.mark_failed_error", "doc_id", docID, "error", err)
	}
}
