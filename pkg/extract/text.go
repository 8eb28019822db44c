package extract

import (
	"context"
	"strings"

	"github.com/ordexlabs/ordex/pkg/chunk"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// TextExtractor runs the second LLM pass over the stitched ordinance
// text: chunk by chunk, the model returns only the verbatim provisions
// about the target systems, dropping the page furniture and unrelated
// sections the chunk scan dragged along.
type TextExtractor struct {
	invoker llm.Invoker
	chunker *chunk.Chunker
	usage   *usage.Record
}

type TextExtractorOption func(*TextExtractor)

// WithTextUsage charges the cleaning calls to the given record.
func WithTextUsage(record *usage.Record) TextExtractorOption {
	return func(e *TextExtractor) {
		e.usage = record
	}
}

func NewTextExtractor(invoker llm.Invoker, chunker *chunk.Chunker, opts ...TextExtractorOption) *TextExtractor {
	e := &TextExtractor{invoker: invoker, chunker: chunker}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clean reduces ordinance text to the bare provisions. Chunks the model
// finds nothing in are dropped; the surviving excerpts are joined in
// order.
func (e *TextExtractor) Clean(ctx context.Context, text string) (string, error) {
	var parts []string
	for _, ch := range e.chunker.Chunk(text).Chunks() {
		reply, err := e.invoker.Invoke(ctx, llm.ChatCall{
			Messages: []llm.Message{
				llm.SystemMessage(cleanTextSystem),
				llm.UserMessage(ch.Text),
			},
			Usage:      e.usage,
			UsageLabel: UsageLabelText,
		})
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			continue
		}
		parts = append(parts, reply)
	}
	return strings.Join(parts, "\n"), nil
}
