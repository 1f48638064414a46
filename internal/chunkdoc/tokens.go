package chunkdoc

import "strings"

// CountTokens counts whitespace-delimited tokens. It is the budget unit for
// the whole pipeline: chunk caps, reduction stats and prompt sizing all use
// the same estimator, so comparisons between them stay meaningful.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}
