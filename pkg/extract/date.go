package extract

import (
	"context"

	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/llm"
)

// DateExtractor reads the document's declared adoption or effective
// date off its raw page views, keeping the latest complete date any
// page states. Pages with no year are ignored.
type DateExtractor struct {
	caller *llm.StructuredCaller
}

func NewDateExtractor(caller *llm.StructuredCaller) *DateExtractor {
	return &DateExtractor{caller: caller}
}

func (e *DateExtractor) Extract(ctx context.Context, doc *document.Document) (document.Date, error) {
	var latest document.Date
	for _, page := range doc.RawPages() {
		reply, err := e.caller.Call(ctx, dateSystem, page)
		if err != nil {
			return document.Date{}, err
		}
		d := document.Date{
			Year:  asInt(reply["year"]),
			Month: asInt(reply["month"]),
			Day:   asInt(reply["day"]),
		}
		if d.Year == 0 {
			continue
		}
		if latest.Before(d) {
			latest = d
		}
	}
	return latest, nil
}

func asInt(value any) int {
	n := llm.AsNumber(value)
	if n == nil {
		return 0
	}
	return int(*n)
}
