package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ordexlabs/ordex/pkg/llm"
)

const (
	defaultMinChunks  = 3
	defaultRecall     = 2
	defaultMergeChars = 300
)

// ChunkHit is one chunk found to carry ordinance content.
type ChunkHit struct {
	Index int
	Text  string
}

// OrdinanceExtractor scans a document's chunks for the ones stating
// siting requirements. The first chunks also vote on whether the
// document is legal text at all; once that vote fails the scan stops,
// and chunks without a recent domain-keyword mention are skipped
// without an LLM call.
type OrdinanceExtractor struct {
	validator *ChunkValidator
	chunks    []string
	keywords  Keywords
	minChunks int
	numRecall int
	mergeN    int
	logger    *slog.Logger
}

type OrdinanceExtractorOption func(*OrdinanceExtractor)

// WithKeywords overrides the domain-mention heuristic.
func WithKeywords(k Keywords) OrdinanceExtractorOption {
	return func(e *OrdinanceExtractor) {
		e.keywords = k
	}
}

// WithMinChunks sets how many leading chunks are always examined.
func WithMinChunks(n int) OrdinanceExtractorOption {
	return func(e *OrdinanceExtractor) {
		if n > 0 {
			e.minChunks = n
		}
	}
}

// WithRecallWindow sets the look-back window for the content checks and
// the domain-mention votes.
func WithRecallWindow(n int) OrdinanceExtractorOption {
	return func(e *OrdinanceExtractor) {
		if n > 0 {
			e.numRecall = n
		}
	}
}

// WithMergeWindow sets the boundary size for stitching chunk texts.
func WithMergeWindow(n int) OrdinanceExtractorOption {
	return func(e *OrdinanceExtractor) {
		if n > 0 {
			e.mergeN = n
		}
	}
}

// WithOrdinanceLogger routes scan logs to the given logger.
func WithOrdinanceLogger(logger *slog.Logger) OrdinanceExtractorOption {
	return func(e *OrdinanceExtractor) {
		e.logger = logger
	}
}

func NewOrdinanceExtractor(caller *llm.StructuredCaller, chunks []string, opts ...OrdinanceExtractorOption) *OrdinanceExtractor {
	e := &OrdinanceExtractor{
		chunks:    chunks,
		keywords:  DefaultKeywords(),
		minChunks: defaultMinChunks,
		numRecall: defaultRecall,
		mergeN:    defaultMergeChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validator = NewChunkValidator(caller, chunks, e.numRecall)
	return e
}

// Extract scans the chunks in order and returns the ones carrying
// ordinance content. A hit masks its own domain vote, so the next chunk
// needs a fresh keyword mention to be examined.
func (e *OrdinanceExtractor) Extract(ctx context.Context) ([]ChunkHit, error) {
	var (
		legalVotes  []bool
		domainVotes []bool
		hits        []ChunkHit
	)
	for i, text := range e.chunks {
		domainVotes = append(domainVotes, e.keywords.Match(text))

		if i >= e.minChunks && !majorityTrue(legalVotes) {
			e.logger.DebugContext(ctx, "Stopping scan, document does not read as legal text",
				"chunks_seen", i)
			break
		}
		if i >= e.minChunks && noneTrue(lastN(domainVotes, e.numRecall)) {
			continue
		}

		if i < e.minChunks {
			legal, err := e.validator.CheckChunk(ctx, i, LegalTextPrompt, LegalTextKey)
			if err != nil {
				return nil, err
			}
			legalVotes = append(legalVotes, legal)
			if !legal {
				continue
			}
		}

		ok, err := e.validator.ParseFromIndex(ctx, i, ContainsOrdinancePrompt, ContainsOrdinanceKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = e.validator.ParseFromIndex(ctx, i, UtilityScalePrompt, UtilityScaleKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		e.logger.DebugContext(ctx, "Chunk carries ordinance content", "chunk", i)
		hits = append(hits, ChunkHit{Index: i, Text: text})
		domainVotes[len(domainVotes)-1] = false
	}
	return hits, nil
}

// Text stitches the ordinance text back together from the hit chunks,
// pulling in the neighbors the recall window consulted around each hit.
func (e *OrdinanceExtractor) Text(hits []ChunkHit) string {
	if len(hits) == 0 {
		return ""
	}

	include := make(map[int]bool)
	for _, h := range hits {
		for j := h.Index - (e.numRecall - 1); j <= h.Index+1; j++ {
			if j >= 0 && j < len(e.chunks) {
				include[j] = true
			}
		}
	}
	indices := make([]int, 0, len(include))
	for j := range include {
		indices = append(indices, j)
	}
	sort.Ints(indices)

	texts := make([]string, len(indices))
	for k, j := range indices {
		texts[k] = e.chunks[j]
	}
	return MergeOverlapping(texts, e.mergeN)
}

// MergeOverlapping joins consecutive texts, splicing at the longest
// shared boundary: the longest prefix of the next text, up to n
// characters, found within the last 2n characters of the accumulated
// text replaces everything from the match on. Texts sharing no boundary
// are joined with a newline.
func MergeOverlapping(texts []string, n int) string {
	if n < 1 {
		n = 1
	}
	var acc string
	for _, text := range texts {
		if text == "" {
			continue
		}
		if acc == "" {
			acc = text
			continue
		}
		tailStart := len(acc) - 2*n
		if tailStart < 0 {
			tailStart = 0
		}
		if idx, ok := spliceIndex(acc[tailStart:], text, n); ok {
			acc = acc[:tailStart+idx] + text
		} else {
			acc = acc + "\n" + text
		}
	}
	return acc
}

func spliceIndex(tail, text string, n int) (int, bool) {
	longest := n
	if len(text) < longest {
		longest = len(text)
	}
	for k := longest; k > 0; k-- {
		if idx := strings.Index(tail, text[:k]); idx >= 0 {
			return idx, true
		}
	}
	return 0, false
}

func majorityTrue(votes []bool) bool {
	trues := 0
	for _, v := range votes {
		if v {
			trues++
		}
	}
	return trues*2 > len(votes)
}

func noneTrue(votes []bool) bool {
	for _, v := range votes {
		if v {
			return false
		}
	}
	return true
}

func lastN(votes []bool, n int) []bool {
	if len(votes) <= n {
		return votes
	}
	return votes[len(votes)-n:]
}
