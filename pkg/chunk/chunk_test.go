package chunk

import (
	"strings"
	"testing"
)

// lengthCounter approximates tokens as len/4, the usual
// characters-per-token rule of thumb.
type lengthCounter struct{}

func (lengthCounter) Count(text string) int { return len(text) / 4 }

// Six equal paragraphs of 150 tokens against a 500 token cap with one
// paragraph of overlap: the windows walk 0-3, 2-5, 4-5.
func TestChunker_WindowsMatchCapAndOverlap(t *testing.T) {
	letters := []string{"a", "b", "c", "d", "e", "f"}
	paragraphs := make([]string, len(letters))
	for i, l := range letters {
		paragraphs[i] = strings.Repeat(l, 600)
	}
	text := strings.Join(paragraphs, "\n\n")

	c := New(lengthCounter{}, Config{TokenCap: 500, Overlap: 1})
	set := c.Chunk(text)

	want := []struct{ first, last int }{
		{0, 3},
		{2, 5},
		{4, 5},
	}
	if set.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", set.Len(), len(want))
	}
	for i, w := range want {
		got := set.At(i)
		if got.First != w.first || got.Last != w.last {
			t.Errorf("chunk[%d] = (%d, %d), want (%d, %d)", i, got.First, got.Last, w.first, w.last)
		}
		wantText := strings.Join(paragraphs[w.first:w.last+1], "\n\n")
		if got.Text != wantText {
			t.Errorf("chunk[%d] text does not join its paragraph window", i)
		}
	}
}

func TestChunker_SingleParagraph(t *testing.T) {
	c := New(lengthCounter{}, Config{})
	set := c.Chunk("A short zoning ordinance paragraph.")

	if set.Len() != 1 {
		t.Fatalf("Len = %d, want 1", set.Len())
	}
	got := set.At(0)
	if got.First != 0 || got.Last != 0 {
		t.Errorf("chunk = (%d, %d), want (0, 0)", got.First, got.Last)
	}
	if got.Text != "A short zoning ordinance paragraph." {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestChunker_EmptyText(t *testing.T) {
	c := New(lengthCounter{}, Config{})
	if got := c.Chunk("").Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	// Only rejected paragraphs.
	if got := c.Chunk("Contents ..... 4\n\n17\n\n  ").Len(); got != 0 {
		t.Errorf("Len = %d on filtered-out text, want 0", got)
	}
}

func TestChunker_DropsBadParagraphs(t *testing.T) {
	text := strings.Join([]string{
		"Article 4 sets wind energy system standards.",
		"Table of Contents ......................... 4",
		"17",
		"   ",
		"Setbacks shall be five hundred feet from dwellings.",
	}, "\n\n")

	c := New(lengthCounter{}, Config{})
	set := c.Chunk(text)

	want := []string{
		"Article 4 sets wind energy system standards.",
		"Setbacks shall be five hundred feet from dwellings.",
	}
	got := set.Paragraphs()
	if len(got) != len(want) {
		t.Fatalf("paragraphs = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsGoodParagraph(t *testing.T) {
	tests := []struct {
		name      string
		paragraph string
		want      bool
	}{
		{"prose", "Wind turbines require a conditional use permit.", true},
		{"numbered_section", "1.2 Setback requirements", true},
		{"digits_with_space", "500 feet", true},
		{"dot_leader", "Definitions ..... 12", false},
		{"long_dot_leader", "......................", false},
		{"page_number", "42", false},
		{"padded_page_number", "  42  ", false},
		{"blank", "", false},
		{"whitespace", "   \n ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isGoodParagraph(tt.paragraph); got != tt.want {
				t.Errorf("isGoodParagraph(%q) = %v, want %v", tt.paragraph, got, tt.want)
			}
		})
	}
}

// A paragraph bigger than the whole cap still lands in a window of its
// own and the walk keeps advancing.
func TestChunker_OversizedParagraphAdvances(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("a", 200),  // 50 tokens
		strings.Repeat("b", 2000), // 500 tokens, over the cap alone
		strings.Repeat("c", 200),  // 50 tokens
	}
	text := strings.Join(paragraphs, "\n\n")

	c := New(lengthCounter{}, Config{TokenCap: 100, Overlap: 1})
	set := c.Chunk(text)

	want := []struct{ first, last int }{
		{0, 1},
		{1, 2},
		{2, 2},
	}
	if set.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", set.Len(), len(want))
	}
	for i, w := range want {
		got := set.At(i)
		if got.First != w.first || got.Last != w.last {
			t.Errorf("chunk[%d] = (%d, %d), want (%d, %d)", i, got.First, got.Last, w.first, w.last)
		}
	}
}

func TestChunker_EveryParagraphCovered(t *testing.T) {
	tokenSizes := []int{120, 80, 200, 40, 160, 90, 300, 60, 110, 70, 130, 50}
	paragraphs := make([]string, len(tokenSizes))
	for i, tokens := range tokenSizes {
		paragraphs[i] = strings.Repeat(string(rune('a'+i)), tokens*4)
	}
	text := strings.Join(paragraphs, "\n\n")

	c := New(lengthCounter{}, Config{TokenCap: 350, Overlap: 2})
	set := c.Chunk(text)

	covered := make([]bool, len(paragraphs))
	prevFirst, prevLast := -1, -1
	for i := 0; i < set.Len(); i++ {
		ch := set.At(i)
		if ch.First > ch.Last {
			t.Fatalf("chunk[%d] has inverted range (%d, %d)", i, ch.First, ch.Last)
		}
		for p := ch.First; p <= ch.Last; p++ {
			covered[p] = true
		}
		if ch.First <= prevFirst {
			t.Errorf("chunk[%d].First = %d, not after previous %d", i, ch.First, prevFirst)
		}
		if prevLast >= 0 && ch.First > prevLast {
			t.Errorf("chunk[%d] starts at %d, leaving a gap after %d", i, ch.First, prevLast)
		}
		prevFirst, prevLast = ch.First, ch.Last
	}
	for p, ok := range covered {
		if !ok {
			t.Errorf("paragraph %d not covered by any chunk", p)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(lengthCounter{}, Config{})
	if c.cfg.TokenCap != 500 {
		t.Errorf("default TokenCap = %d, want 500", c.cfg.TokenCap)
	}
	if c.cfg.Overlap != 1 {
		t.Errorf("default Overlap = %d, want 1", c.cfg.Overlap)
	}
	if c.cfg.Separator != "\n\n" {
		t.Errorf("default Separator = %q", c.cfg.Separator)
	}
}

func TestChunk_Contains(t *testing.T) {
	ch := Chunk{First: 2, Last: 5}
	for i, want := range map[int]bool{1: false, 2: true, 4: true, 5: true, 6: false} {
		if got := ch.Contains(i); got != want {
			t.Errorf("Contains(%d) = %v, want %v", i, got, want)
		}
	}
}
