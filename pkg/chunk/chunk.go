// Package chunk splits document text into overlapping token-bounded
// windows of paragraphs. Chunks are the unit of LLM input for the
// validators and the ordinance content extractor.
package chunk

import (
	"strings"
	"unicode"
)

// TokenCounter reports provider-billable tokens for a text fragment.
// llm.TokenCounter satisfies it.
type TokenCounter interface {
	Count(text string) int
}

// Config controls paragraph grouping.
type Config struct {
	// TokenCap bounds the combined token count of a window's core run.
	// Overlap paragraphs extended past the core are not charged.
	TokenCap int

	// Overlap is the number of paragraphs shared across a window
	// boundary from each side.
	Overlap int

	// Separator splits the text into paragraphs.
	Separator string
}

// Chunk is one paragraph window. First and Last are inclusive indices
// into the chunked paragraph list.
type Chunk struct {
	First int
	Last  int
	Text  string
}

// Contains reports whether paragraph index i falls inside the window.
func (c Chunk) Contains(i int) bool {
	return i >= c.First && i <= c.Last
}

// Chunker groups cleaned paragraphs into chunks.
type Chunker struct {
	cfg     Config
	counter TokenCounter
}

// New returns a Chunker with the given configuration. Zero-value fields
// are replaced with defaults (500 tokens, 1 paragraph overlap, blank
// line separator).
func New(counter TokenCounter, cfg Config) *Chunker {
	if cfg.TokenCap == 0 {
		cfg.TokenCap = 500
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 1
	}
	if cfg.Separator == "" {
		cfg.Separator = "\n\n"
	}
	return &Chunker{cfg: cfg, counter: counter}
}

// Chunk splits text into paragraph windows. Each window's core run is
// capped by TokenCap; the window then carries the last Overlap
// paragraphs of the previous core and extends Overlap paragraphs past
// its own core. Every surviving paragraph appears in at least one
// window.
func (c *Chunker) Chunk(text string) *Set {
	paragraphs := c.splitParagraphs(text)
	set := &Set{paragraphs: paragraphs, separator: c.cfg.Separator}
	if len(paragraphs) == 0 {
		return set
	}

	start := 0
	for {
		end := start
		total := c.counter.Count(paragraphs[start])
		for end+1 < len(paragraphs) {
			tokens := c.counter.Count(paragraphs[end+1])
			if total+tokens > c.cfg.TokenCap {
				break
			}
			total += tokens
			end++
		}

		last := end + c.cfg.Overlap
		if last > len(paragraphs)-1 {
			last = len(paragraphs) - 1
		}
		set.chunks = append(set.chunks, Chunk{
			First: start,
			Last:  last,
			Text:  strings.Join(paragraphs[start:last+1], c.cfg.Separator),
		})

		if end >= len(paragraphs)-1 {
			return set
		}
		next := end - c.cfg.Overlap + 1
		if next <= start {
			// A single paragraph filled the cap; step past it so the
			// walk always advances.
			next = start + 1
		}
		start = next
	}
}

func (c *Chunker) splitParagraphs(text string) []string {
	raw := strings.Split(text, c.cfg.Separator)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if isGoodParagraph(p) {
			out = append(out, p)
		}
	}
	return out
}

// isGoodParagraph rejects table-of-contents dot leaders, bare page
// numbers and blank fragments left over from document conversion.
func isGoodParagraph(p string) bool {
	if strings.Contains(p, ".....") {
		return false
	}
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Set is the chunk view of one document's text.
type Set struct {
	paragraphs []string
	chunks     []Chunk
	separator  string
}

// Len returns the number of chunks.
func (s *Set) Len() int {
	return len(s.chunks)
}

// At returns chunk i.
func (s *Set) At(i int) Chunk {
	return s.chunks[i]
}

// Chunks returns the chunk windows in order.
func (s *Set) Chunks() []Chunk {
	return s.chunks
}

// Paragraphs returns the surviving paragraphs the windows index into.
func (s *Set) Paragraphs() []string {
	return s.paragraphs
}
