// Package extract holds the LLM-driven stages of the pipeline: deciding
// whether a fetched document belongs to the target county, finding the
// chunks that carry ordinance provisions, stitching those into a single
// ordinance text, and parsing structured setback values out of it.
package extract

import "strings"

// Usage labels the extraction stages charge their LLM calls under.
const (
	UsageLabelLocation = "document_location"
	UsageLabelContent  = "document_content"
	UsageLabelDate     = "document_date"
	UsageLabelText     = "ordinance_text"
	UsageLabelValues   = "ordinance_values"
)

// Target identifies the jurisdiction being extracted.
type Target struct {
	FullName string // "Decatur County, Indiana"
	County   string // "Decatur"
	State    string // "Indiana"
}

// Keywords is the cheap relevance gate applied before LLM calls: a text
// counts as a domain mention when it contains at least one allow term
// and no deny term, compared case-insensitively.
type Keywords struct {
	Allow []string
	Deny  []string
}

// DefaultKeywords marks chunks worth an LLM look for wind ordinances.
func DefaultKeywords() Keywords {
	return Keywords{Allow: []string{"wind", "turbine", "wecs", "setback"}}
}

func (k Keywords) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range k.Deny {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	if len(k.Allow) == 0 {
		return true
	}
	for _, term := range k.Allow {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
