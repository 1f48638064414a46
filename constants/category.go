package constants

import "strings"

// FieldCategory labels how important a field is when contending for the
// escalation budget.
type FieldCategory string

const (
	CategoryCritical FieldCategory = "critical"
	CategoryHigh     FieldCategory = "high"
	CategoryMedium   FieldCategory = "medium"
	CategoryLow      FieldCategory = "low"
)

var allFieldCategories = []FieldCategory{
	CategoryCritical,
	CategoryHigh,
	CategoryMedium,
	CategoryLow,
}

// Priority returns the budget-allocation rank of a category; lower is more
// urgent. Unknown categories sort last.
func (c FieldCategory) Priority() int {
	switch c {
	case CategoryCritical:
		return 0
	case CategoryHigh:
		return 1
	case CategoryMedium:
		return 2
	case CategoryLow:
		return 3
	}
	return 4
}

func FieldCategories() []string {
	result := make([]string, len(allFieldCategories))
	for i, c := range allFieldCategories {
		result[i] = string(c)
	}
	return result
}

// CanonicalizeCategory maps free-form config input to a known category.
func CanonicalizeCategory(input string) (FieldCategory, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return CategoryLow, false
	}
	for _, c := range allFieldCategories {
		if normalized == string(c) {
			return c, true
		}
	}
	return CategoryLow, false
}

// SectionCategory classifies what a span of pages contains.
type SectionCategory string

const (
	SectionApplicationContent SectionCategory = "application_content"
	SectionThirdPartyReport   SectionCategory = "third_party_report"
	SectionUnknown            SectionCategory = "unknown"
)
