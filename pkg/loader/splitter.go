package loader

import (
	"strings"
)

const (
	defaultSplitSize    = 3000
	defaultSplitOverlap = 300
)

// CharacterSplitter cuts text into fixed-size character windows that
// share an overlap; HTML documents use them as the page views for
// location voting. Windows are rune-aligned so multi-byte text never
// splits mid-character.
type CharacterSplitter struct {
	size    int
	overlap int
}

// NewCharacterSplitter builds a splitter, substituting defaults for
// out-of-range sizes.
func NewCharacterSplitter(size, overlap int) *CharacterSplitter {
	if size <= 0 {
		size = defaultSplitSize
	}
	if overlap < 0 {
		overlap = defaultSplitOverlap
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &CharacterSplitter{size: size, overlap: overlap}
}

// Split returns the overlapping windows covering text in order. Blank
// text has no views.
func (s *CharacterSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= s.size {
		return []string{text}
	}

	step := s.size - s.overlap
	parts := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}
		parts = append(parts, string(runes[start:end]))
	}
	return parts
}
