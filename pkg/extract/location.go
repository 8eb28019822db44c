package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/llm"
)

const defaultScoreThresh = 0.8

// LocationValidator decides whether a document belongs to the target
// county. The jurisdiction level is checked first over the document's
// raw page views; a document at the right level is then accepted when
// the text plainly names the county, the URL points at it, or the
// per-page county-name vote passes.
type LocationValidator struct {
	caller *llm.StructuredCaller
	target Target
	thresh float64
	logger *slog.Logger
}

type LocationValidatorOption func(*LocationValidator)

// WithScoreThresh overrides the weighted-vote acceptance threshold.
func WithScoreThresh(thresh float64) LocationValidatorOption {
	return func(v *LocationValidator) {
		v.thresh = thresh
	}
}

// WithLocationLogger routes validation logs to the given logger.
func WithLocationLogger(logger *slog.Logger) LocationValidatorOption {
	return func(v *LocationValidator) {
		v.logger = logger
	}
}

func NewLocationValidator(caller *llm.StructuredCaller, target Target, opts ...LocationValidatorOption) *LocationValidator {
	v := &LocationValidator{
		caller: caller,
		target: target,
		thresh: defaultScoreThresh,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check reports whether the document belongs to the target county.
func (v *LocationValidator) Check(ctx context.Context, doc *document.Document) (bool, error) {
	pages := doc.RawPages()
	if len(pages) == 0 {
		return false, nil
	}

	ok, err := v.pageVote(ctx, pages, jurisdictionSystem(v.target), "correct_jurisdiction")
	if err != nil {
		return false, err
	}
	if !ok {
		v.logger.DebugContext(ctx, "Document claims another jurisdiction",
			"source", doc.Meta.Source,
			"target", v.target.FullName)
		return false, nil
	}

	if v.mentionsTarget(doc.Text()) {
		return true, nil
	}

	if doc.Meta.Source != "" {
		reply, err := v.caller.Call(ctx, urlSystem(v.target), doc.Meta.Source)
		if err != nil {
			return false, err
		}
		if llm.AsBool(reply["url_is_county"]) {
			return true, nil
		}
	}

	return v.pageVote(ctx, pages, countyNameSystem(v.target), "correct_county")
}

// mentionsTarget is the free check: both the county and its state appear
// somewhere in the text.
func (v *LocationValidator) mentionsTarget(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, strings.ToLower(v.target.County)) &&
		strings.Contains(lower, strings.ToLower(v.target.State))
}

func (v *LocationValidator) pageVote(ctx context.Context, pages []string, system, key string) (bool, error) {
	votes := make([]bool, len(pages))
	for i, page := range pages {
		reply, err := v.caller.Call(ctx, system, page)
		if err != nil {
			return false, err
		}
		votes[i] = llm.AsBool(reply[key])
	}

	score := weightedVote(pages, votes)
	v.logger.DebugContext(ctx, "Per-page vote complete",
		"question", key,
		"score", score,
		"threshold", v.thresh)
	return score > v.thresh, nil
}

// weightedVote averages the votes with each page weighted by its
// length, so a short boilerplate page cannot outvote the body.
func weightedVote(pages []string, votes []bool) float64 {
	var total, yes float64
	for i, page := range pages {
		w := float64(len(page))
		total += w
		if votes[i] {
			yes += w
		}
	}
	if total == 0 {
		return 0
	}
	return yes / total
}
