// Package analyze classifies page ranges of an application document into
// core content versus third-party exhibits that the default extraction pass
// can skip.
package analyze

import (
	"fmt"
	"strings"

	"docextract/constants"
	"docextract/internal/document"
)

// Keyword sets are matched against lowercased page text. Third-party hits
// mark skippable exhibit material; application hits anchor core content.
var thirdPartyKeywords = []string{
	"market study",
	"appraisal",
	"appraisal report",
	"architectural drawings",
	"environmental site assessment",
	"phase i environmental",
	"geotechnical report",
	"title report",
	"survey of property",
	"traffic study",
	"capital needs assessment",
}

var applicationKeywords = []string{
	"unit mix",
	"sources and uses",
	"development budget",
	"operating pro forma",
	"applicant information",
	"sponsor",
	"development team",
	"site control",
	"project description",
	"income targeting",
	"set-aside",
}

// Thresholds for section classification confidence. Anything between the
// two floors stays unknown with skip=false: uncertain content is never
// excluded.
const (
	skipConfidenceFloor = 0.7
	coreConfidenceFloor = 0.55
	// Pages under this many characters carry too little signal to vote.
	minSignalChars = 120
)

// pageClass is the per-page vote before grouping.
type pageClass struct {
	category constants.SectionCategory
	score    float64
	title    string
}

// Analyze classifies every page and groups consecutive pages of the same
// category into an ordered section list covering the whole document with no
// gaps. Pure function of its input.
func Analyze(doc *document.SourceDocument) []document.Section {
	if doc == nil || len(doc.Pages) == 0 {
		return nil
	}

	votes := make([]pageClass, len(doc.Pages))
	for i, p := range doc.Pages {
		votes[i] = classifyPage(p)
	}
	smoothVotes(votes)

	var sections []document.Section
	start := 0
	for i := 1; i <= len(votes); i++ {
		if i < len(votes) && votes[i].category == votes[start].category {
			continue
		}
		sections = append(sections, buildSection(doc, votes, start, i-1, len(sections)))
		start = i
	}
	return sections
}

func classifyPage(p document.Page) pageClass {
	text := strings.ToLower(p.Text)
	header := strings.ToLower(p.Layout["header"])

	third := countHits(text, thirdPartyKeywords)
	core := countHits(text, applicationKeywords)
	// A recurring header naming an exhibit is the strongest signal a page
	// belongs to an attached report rather than the application body.
	if header != "" {
		third += 2 * countHits(header, thirdPartyKeywords)
		core += 2 * countHits(header, applicationKeywords)
	}

	title := firstHeading(p)

	if len(strings.TrimSpace(p.Text)) < minSignalChars && third == 0 && core == 0 {
		return pageClass{category: constants.SectionUnknown, score: 0.3, title: title}
	}

	switch {
	case third > core:
		return pageClass{category: constants.SectionThirdPartyReport, score: hitScore(third - core), title: title}
	case core > third:
		return pageClass{category: constants.SectionApplicationContent, score: hitScore(core - third), title: title}
	default:
		return pageClass{category: constants.SectionUnknown, score: 0.4, title: title}
	}
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

// hitScore maps a keyword margin to a confidence in (0,1).
func hitScore(margin int) float64 {
	s := 0.55 + 0.12*float64(margin)
	if s > 0.95 {
		s = 0.95
	}
	return s
}

// smoothVotes absorbs isolated unknown pages into a surrounding section:
// a single low-signal page inside a long exhibit (a divider, a photo page)
// should not split the section. Only unknowns are rewritten, and only when
// both neighbors agree.
func smoothVotes(votes []pageClass) {
	for i := 1; i < len(votes)-1; i++ {
		if votes[i].category != constants.SectionUnknown {
			continue
		}
		prev, next := votes[i-1], votes[i+1]
		if prev.category == next.category && prev.category != constants.SectionUnknown {
			votes[i].category = prev.category
			votes[i].score = (prev.score + next.score) / 2
		}
	}
}

func buildSection(doc *document.SourceDocument, votes []pageClass, start, end, index int) document.Section {
	sum := 0.0
	title := ""
	for i := start; i <= end; i++ {
		sum += votes[i].score
		if title == "" {
			title = votes[i].title
		}
	}
	confidence := sum / float64(end-start+1)
	category := votes[start].category

	// Conservative skip decision: only confidently classified third-party
	// material leaves the default chunk stream. Unknown is never skipped.
	skip := false
	switch category {
	case constants.SectionThirdPartyReport:
		if confidence >= skipConfidenceFloor {
			skip = true
		} else {
			category = constants.SectionUnknown
		}
	case constants.SectionApplicationContent:
		if confidence < coreConfidenceFloor {
			category = constants.SectionUnknown
		}
	}

	return document.Section{
		ID:         fmt.Sprintf("%s-s%02d", doc.ID, index),
		PageStart:  doc.Pages[start].Number,
		PageEnd:    doc.Pages[end].Number,
		Category:   category,
		Skip:       skip,
		Confidence: confidence,
		Title:      title,
	}
}

// firstHeading returns a short all-caps or title-like first line, used as a
// best-effort section title.
func firstHeading(p document.Page) string {
	for _, line := range strings.Split(p.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= 80 {
			return line
		}
		return ""
	}
	return ""
}
