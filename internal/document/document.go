package document

import (
	"strings"

	"docextract/constants"
)

// Page is one page of already-extracted text from the upstream
// text-extraction collaborator. The pipeline never sees binary formats.
type Page struct {
	Number int               `json:"number"`
	Text   string            `json:"text"`
	Layout map[string]string `json:"layout,omitempty"` // optional hints: header, font_size, ...
}

// SourceDocument is the read-only input to the pipeline. Never mutated.
type SourceDocument struct {
	ID    string `json:"document_id"`
	Name  string `json:"name,omitempty"`
	Pages []Page `json:"pages"`
}

// PageCount returns the number of pages.
func (d *SourceDocument) PageCount() int {
	return len(d.Pages)
}

// Text concatenates all page text in order.
func (d *SourceDocument) Text() string {
	var b strings.Builder
	for i, p := range d.Pages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// PageRangeText reconstructs the exact text of pages [start, end]
// (1-based, inclusive). Used by escalation to re-read a flagged field's
// source section at full context.
func (d *SourceDocument) PageRangeText(start, end int) string {
	var b strings.Builder
	first := true
	for _, p := range d.Pages {
		if p.Number < start || p.Number > end {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
		first = false
	}
	return b.String()
}

// Section is a classified span of pages. Skip marks content excluded from
// the default chunk stream; the pages stay addressable for escalation.
type Section struct {
	ID         string                    `json:"id"`
	PageStart  int                       `json:"page_start"` // 1-based, inclusive
	PageEnd    int                       `json:"page_end"`   // inclusive
	Category   constants.SectionCategory `json:"category"`
	Skip       bool                      `json:"skip"`
	Confidence float64                   `json:"classification_confidence"`
	Title      string                    `json:"title,omitempty"` // detected heading, if any
}

// Text returns the section's exact source text from doc.
func (s Section) Text(doc *SourceDocument) string {
	return doc.PageRangeText(s.PageStart, s.PageEnd)
}

// PageCount returns the number of pages the section spans.
func (s Section) PageCount() int {
	return s.PageEnd - s.PageStart + 1
}
