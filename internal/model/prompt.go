package model

import (
	"fmt"
	"strings"
)

const maxRationaleChars = 600

// BuildSystemPrompt describes the extraction task and the exact fields
// wanted. Shared by every tier so answers stay comparable across
// escalations.
func BuildSystemPrompt(req Request) string {
	parts := []string{
		"You are a document analyst extracting fields from a housing development funding application.",
		"Return ONLY JSON of the form {\"fields\": [{\"name\", \"value\", \"confidence\", \"rationale\"}]}.",
		"Confidence is your own calibrated certainty in [0,1].",
		"If a field is not present in the text, return it with value null and confidence 0. Never omit a requested field and never invent values.",
		"Integers must be plain numbers; monetary amounts must be decimal strings without currency symbols or thousands separators.",
	}
	if len(req.PriorValues) > 0 {
		parts = append(parts,
			"A cheaper model already attempted these fields; its answers follow in the user message.",
			"Re-extract each field independently from the full text, then compare with the prior answer in your rationale.")
	}

	parts = append(parts, "Fields to extract:")
	for _, f := range req.Fields {
		line := fmt.Sprintf("- %s (%s, %s)", f.Name, f.Type, f.Category)
		if f.Description != "" {
			line += ": " + f.Description
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt carries the source text plus, for escalations, the prior
// tier's answers and rationales.
func BuildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Document: ")
	b.WriteString(req.DocumentID)
	if req.SectionRef != "" {
		b.WriteString("  Section: ")
		b.WriteString(req.SectionRef)
	}
	b.WriteString("\n\n")

	if len(req.PriorValues) > 0 {
		b.WriteString("Prior answers from the lower tier:\n")
		for _, f := range req.Fields {
			pv, ok := req.PriorValues[f.Name]
			if !ok {
				continue
			}
			rationale := pv.Rationale
			if len(rationale) > maxRationaleChars {
				rationale = rationale[:maxRationaleChars]
			}
			fmt.Fprintf(&b, "- %s: value=%v confidence=%.2f rationale=%s\n", f.Name, pv.Value, pv.Conf, rationale)
		}
		b.WriteString("\n")
	}

	b.WriteString("Source text:\n")
	b.WriteString(req.Text)
	return b.String()
}
