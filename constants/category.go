package constants

import (
	"strings"
)

// IssueCategory is the closed set of finding types an audit section can report.
type IssueCategory string

const (
	NonCompliance IssueCategory = "non-compliance"
	Observation   IssueCategory = "observation"
	GoodExample   IssueCategory = "good-example"
)

var allCategories = []IssueCategory{
	NonCompliance,
	Observation,
	GoodExample,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// ParseCategory maps model output onto the enum. Spacing, underscores and case are
// tolerated ("Non Compliance", "good_example"); anything else is rejected.
func ParseCategory(input string) (IssueCategory, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	normalized = strings.NewReplacer("_", "-", " ", "-").Replace(normalized)

	synonyms := map[string]IssueCategory{
		"noncompliance":   NonCompliance,
		"non-conformance": NonCompliance,
		"nc":              NonCompliance,
		"goodexample":     GoodExample,
		"good-practice":   GoodExample,
	}
	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range allCategories {
		if normalized == string(cat) {
			return cat, true
		}
	}
	return "", false
}
