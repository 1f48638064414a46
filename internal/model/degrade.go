package model

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docextract/internal/common"
)

// Degrading wraps an Extractor with a hard per-call timeout and the shared
// retry policy. After retries are exhausted it returns zero-confidence
// entries for every requested field instead of an error: a single field
// failure must never abort document processing. The one exception is quota
// exhaustion, which is surfaced so the orchestrator can pause the tier.
type Degrading struct {
	inner   Extractor
	timeout time.Duration
	policy  Policy
	logger  *slog.Logger
}

func NewDegrading(inner Extractor, timeout time.Duration, policy Policy, logger *slog.Logger) *Degrading {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Degrading{inner: inner, timeout: timeout, policy: policy, logger: logger}
}

func (d *Degrading) Model() string { return d.inner.Model() }

func (d *Degrading) Extract(ctx context.Context, req Request) (map[string]FieldResult, Usage, error) {
	var (
		results map[string]FieldResult
		usage   Usage
	)

	err := d.policy.Do(ctx, d.logger, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		res, u, err := d.inner.Extract(callCtx, req)
		usage.Add(u)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return common.WrapError(common.ErrModelTimeout, err.Error())
			}
			return err
		}
		results = res
		return nil
	})

	if err == nil {
		return results, usage, nil
	}
	if errors.Is(err, common.ErrModelQuotaExceeded) {
		return nil, usage, err
	}

	d.logger.Warn("model.degraded",
		"model", d.inner.Model(),
		"doc_id", req.DocumentID,
		"section", req.SectionRef,
		"fields", len(req.Fields),
		"error", err)
	return ZeroResults(req.Fields, "extraction failed: "+err.Error()), usage, nil
}
