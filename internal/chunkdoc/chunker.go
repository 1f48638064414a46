// Package chunkdoc assembles token-bounded chunks from the non-skipped
// sections of a document, preserving enough provenance that escalation can
// re-read the original section text.
package chunkdoc

import (
	"strings"

	"docextract/internal/document"
)

// Chunk is one unit of text sent to a tier-1 extraction call.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
	PageStart  int
	PageEnd    int
	SectionIDs []string
}

// Options configures chunk assembly.
type Options struct {
	// MaxTokens caps a chunk. Default: 8000.
	MaxTokens int
	// OverlapTokens is carried between consecutive parts of a split
	// section. Default: 1000.
	OverlapTokens int
}

func (o *Options) defaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8000
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.MaxTokens {
		o.OverlapTokens = o.MaxTokens / 8
	}
}

// ReductionStats reports how much the skip classification saved versus
// chunking the whole document.
type ReductionStats struct {
	NaiveTokens   int // whole document
	ChunkedTokens int // sum over emitted chunks (includes overlap)
	SkippedPages  int
	Ratio         float64 // ChunkedTokens / NaiveTokens, 1.0 when nothing skipped
}

// Build produces chunks covering every non-skipped section in order.
// Adjacent small sections are merged under the token cap; oversize sections
// are split with overlap, never dropping content.
func Build(doc *document.SourceDocument, sections []document.Section, opts Options) ([]Chunk, ReductionStats) {
	opts.defaults()

	stats := ReductionStats{NaiveTokens: CountTokens(doc.Text())}

	var chunks []Chunk
	var pending []document.Section
	pendingTokens := 0

	flush := func() {
		if len(pending) == 0 {
			return
		}
		chunks = append(chunks, mergeSections(doc, pending, len(chunks)))
		pending = nil
		pendingTokens = 0
	}

	for _, sec := range sections {
		if sec.Skip {
			stats.SkippedPages += sec.PageCount()
			continue
		}
		text := sec.Text(doc)
		tokens := CountTokens(text)

		if tokens > opts.MaxTokens {
			// Section alone exceeds the cap: flush what we have, then
			// split it into overlapping parts.
			flush()
			for _, part := range splitText(text, opts.MaxTokens, opts.OverlapTokens) {
				chunks = append(chunks, Chunk{
					Index:      len(chunks),
					Text:       part,
					TokenCount: CountTokens(part),
					PageStart:  sec.PageStart,
					PageEnd:    sec.PageEnd,
					SectionIDs: []string{sec.ID},
				})
			}
			continue
		}

		if pendingTokens+tokens > opts.MaxTokens {
			flush()
		}
		pending = append(pending, sec)
		pendingTokens += tokens
	}
	flush()

	for _, c := range chunks {
		stats.ChunkedTokens += c.TokenCount
	}
	if stats.NaiveTokens > 0 {
		stats.Ratio = float64(stats.ChunkedTokens) / float64(stats.NaiveTokens)
	} else {
		stats.Ratio = 1.0
	}
	return chunks, stats
}

func mergeSections(doc *document.SourceDocument, secs []document.Section, index int) Chunk {
	var parts []string
	var ids []string
	for _, s := range secs {
		parts = append(parts, s.Text(doc))
		ids = append(ids, s.ID)
	}
	text := strings.Join(parts, "\n")
	return Chunk{
		Index:      index,
		Text:       text,
		TokenCount: CountTokens(text),
		PageStart:  secs[0].PageStart,
		PageEnd:    secs[len(secs)-1].PageEnd,
		SectionIDs: ids,
	}
}

// splitText cuts text into word-bounded parts of at most maxTokens tokens,
// each part after the first starting with the last overlapTokens tokens of
// the previous one. Every input token appears in at least one part.
func splitText(text string, maxTokens, overlapTokens int) []string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return []string{text}
	}
	step := maxTokens - overlapTokens
	if step <= 0 {
		step = maxTokens
	}
	var parts []string
	for start := 0; start < len(words); start += step {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		parts = append(parts, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return parts
}
