package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"docextract/constants"
	"docextract/internal/batch"
	"docextract/internal/checkpoint"
	"docextract/internal/record"
	"docextract/internal/telemetry"
)

func sampleResult() *batch.Result {
	rec := record.New("doc-a", "app-a.json")
	f := rec.Field("total_units", constants.CategoryCritical)
	f.Apply(constants.Tier2, int64(164), 0.95, "", time.Now())
	rec.AddModel("llama3.1:8b")
	rec.AddModel("claude-3-5-haiku-latest")
	rec.EstimatedCost = 0.042
	rec.ProcessingTime = 3 * time.Second
	rec.Finalize(0.75, time.Now())

	return &batch.Result{
		Records: []*record.Record{rec},
		Checkpoint: []checkpoint.Entry{
			{DocumentID: "doc-a", State: constants.DocComplete, Attempts: 1},
			{DocumentID: "doc-b", State: constants.DocFailed, Attempts: 3, LastError: "model unavailable"},
		},
		Summary: telemetry.Snapshot{
			DocsCompleted: 1,
			DocsFailed:    1,
			CallsPerTier: map[constants.Tier]int64{
				constants.Tier1: 4, constants.Tier2: 1, constants.Tier3: 0,
			},
			FieldsPerTier:  map[constants.Tier]int64{},
			EstimatedCost:  0.042,
			BaselineCost:   0.75,
			ConfidenceDist: map[constants.FieldCategory][]int64{},
		},
	}
}

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteProducesAllSheets(t *testing.T) {
	data, err := NewWriter(nil).Write(sampleResult())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := openWorkbook(t, data)

	for _, sheet := range []string{"Summary", "Documents", "Failures"} {
		if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
			t.Errorf("sheet %q missing", sheet)
		}
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("default Sheet1 not removed")
	}
}

func TestDocumentsSheetJoinsRecords(t *testing.T) {
	data, err := NewWriter(nil).Write(sampleResult())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows("Documents")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus two documents", len(rows))
	}
	if rows[1][0] != "doc-a" || rows[1][1] != string(constants.DocComplete) {
		t.Errorf("doc-a row = %v", rows[1])
	}
	// Completed document carries its record details.
	if rows[1][4] != "llama3.1:8b, claude-3-5-haiku-latest" {
		t.Errorf("models cell = %q", rows[1][4])
	}
	// Failed document has checkpoint state but no record columns.
	if rows[2][0] != "doc-b" || rows[2][1] != string(constants.DocFailed) {
		t.Errorf("doc-b row = %v", rows[2])
	}
}

func TestFailuresSheetListsOnlyFailed(t *testing.T) {
	data, err := NewWriter(nil).Write(sampleResult())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows("Failures")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header plus one failure", len(rows))
	}
	if rows[1][0] != "doc-b" || rows[1][2] != "model unavailable" {
		t.Errorf("failure row = %v", rows[1])
	}
}
