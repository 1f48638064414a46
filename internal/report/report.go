// Package report renders the batch summary workbook: aggregate metrics,
// per-document outcomes, and the failure report.
package report

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"docextract/constants"
	"docextract/internal/batch"
	"docextract/internal/telemetry"
)

// Writer produces XLSX bytes for a finished (or interrupted) batch run.
type Writer struct {
	logger *slog.Logger
}

func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

// Write renders the workbook for result and returns its bytes.
func (w *Writer) Write(result *batch.Result) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()

	if err := w.summarySheet(f, result.Summary); err != nil {
		return nil, err
	}
	if err := w.documentsSheet(f, result); err != nil {
		return nil, err
	}
	if err := w.failuresSheet(f, result); err != nil {
		return nil, err
	}

	// Drop the default sheet excelize creates.
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	w.logger.Info("report.written",
		"documents", len(result.Checkpoint),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func (w *Writer) summarySheet(f *excelize.File, s telemetry.Snapshot) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][]any{
		{"Metric", "Value"},
		{"Documents completed", s.DocsCompleted},
		{"Documents permanently failed", s.DocsFailed},
		{"Documents resolved by tier 1 only", s.DocsTier1Only},
		{"Documents escalated", s.DocsEscalated},
		{"Fields resolved", s.FieldsResolved},
		{"Fields unresolved", s.FieldsUnresolved},
		{"Tier-1 calls", s.CallsPerTier[constants.Tier1]},
		{"Tier-2 calls", s.CallsPerTier[constants.Tier2]},
		{"Tier-3 calls", s.CallsPerTier[constants.Tier3]},
		{"Estimated cost ($)", s.EstimatedCost},
		{"Always-top-tier baseline ($)", s.BaselineCost},
		{"Estimated saving ($)", s.EstimatedSaving},
		{"Naive tokens", s.NaiveTokens},
		{"Chunked tokens", s.ChunkedTokens},
		{"Token reduction", s.TokenReduction},
	}
	for i, row := range rows {
		setRow(f, sheet, i+1, row)
	}

	// Confidence distribution, one row per category.
	base := len(rows) + 2
	header := []any{"Category"}
	for b := 0; b < 10; b++ {
		header = append(header, fmt.Sprintf("%.1f–%.1f", float64(b)/10, float64(b+1)/10))
	}
	setRow(f, sheet, base, header)
	row := base + 1
	for _, cat := range []constants.FieldCategory{
		constants.CategoryCritical, constants.CategoryHigh,
		constants.CategoryMedium, constants.CategoryLow,
	} {
		values := []any{string(cat)}
		for _, n := range s.ConfidenceDist[cat] {
			values = append(values, n)
		}
		setRow(f, sheet, row, values)
		row++
	}
	return nil
}

func (w *Writer) documentsSheet(f *excelize.File, result *batch.Result) error {
	const sheet = "Documents"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	setRow(f, sheet, 1, []any{
		"Document ID", "State", "Attempts",
		"Final Confidence", "Models Used", "Estimated Cost ($)", "Processing (ms)",
	})

	byID := make(map[string]int)
	for i, rec := range result.Records {
		byID[rec.DocumentID] = i
	}

	row := 2
	for _, e := range result.Checkpoint {
		values := []any{e.DocumentID, string(e.State), e.Attempts, "", "", "", ""}
		if i, ok := byID[e.DocumentID]; ok {
			rec := result.Records[i]
			values[3] = rec.FinalConfidence
			values[4] = strings.Join(rec.ModelsUsed, ", ")
			values[5] = rec.EstimatedCost
			values[6] = rec.ProcessingTime.Milliseconds()
		}
		setRow(f, sheet, row, values)
		row++
	}
	return nil
}

func (w *Writer) failuresSheet(f *excelize.File, result *batch.Result) error {
	const sheet = "Failures"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	setRow(f, sheet, 1, []any{"Document ID", "Attempts", "Last Error"})

	row := 2
	for _, e := range result.Checkpoint {
		if e.State != constants.DocFailed {
			continue
		}
		setRow(f, sheet, row, []any{e.DocumentID, e.Attempts, e.LastError})
		row++
	}
	return nil
}
