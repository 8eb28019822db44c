package document

import (
	"strings"
	"testing"
)

func TestLineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "abc", "abc", 1},
		{"one_off", "abc", "abd", 2.0 / 3},
		{"spacing_ignored", "a b c", "abc", 1},
		{"length_penalized", "abc", "abcdef", 0.5},
		{"no_overlap", "", "xx", 0},
		{"both_empty", "", "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("lineSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestResolveSlot(t *testing.T) {
	lines := []string{"a", "b", "c"}
	tests := []struct {
		slot    int
		wantIdx int
		wantOK  bool
	}{
		{0, 0, true},
		{1, 1, true},
		{-1, 2, true},
		{-2, 1, true},
		{3, 0, false},
		{-4, 0, false},
	}
	for _, tt := range tests {
		idx, ok := resolveSlot(lines, tt.slot)
		if idx != tt.wantIdx || ok != tt.wantOK {
			t.Errorf("resolveSlot(%d) = (%d, %v), want (%d, %v)", tt.slot, idx, ok, tt.wantIdx, tt.wantOK)
		}
	}
}

func TestMostCommonLine(t *testing.T) {
	split := [][]string{
		{"HEADER", "body one"},
		{"Other", "body two"},
		{"HEADER", "body three"},
	}
	if got := mostCommonLine(split, 0); got != "HEADER" {
		t.Errorf("mostCommonLine = %q", got)
	}
}

func TestCollapseBlankLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing_space", "line  \nnext", "line\nnext"},
		{"blank_run", "a\n\n\n\nb", "a\n\nb"},
		{"page_number", "a\n 12 \nb", "a\nb"},
		{"adjacent_page_numbers", "intro\n3\n7\nbody", "intro\nbody"},
		{"keeps_numbered_prose", "a\n12 feet\nb", "a\n12 feet\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := collapseBlankLines(tt.in); got != tt.want {
				t.Errorf("collapseBlankLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Numbered footers like "Page 3" differ by one character per page, so
// the slot engages but only the page matching the nominal line exactly
// loses its footer.
func TestStripRepeatedHeaders_NearMatches(t *testing.T) {
	pages := []string{
		"TITLE\nWind systems need permits.\nPage 1",
		"TITLE\nSetbacks are five hundred feet.\nPage 2",
		"TITLE\nNoise limits apply at night.\nPage 3",
		"TITLE\nDecommissioning bonds are required.\nPage 4",
	}
	out := stripRepeatedHeaders(pages)

	for i, p := range out {
		if strings.Contains(p, "TITLE") {
			t.Errorf("page %d kept the repeated title", i)
		}
		if !strings.Contains(p, strings.Split(pages[i], "\n")[1]) {
			t.Errorf("page %d lost its body line", i)
		}
	}
	if strings.Contains(out[0], "Page 1") {
		t.Error("exact nominal footer should be dropped")
	}
	if !strings.Contains(out[1], "Page 2") {
		t.Error("near-match footer below the page threshold should survive")
	}
}

func TestStripRepeatedHeaders_DistinctLinesKept(t *testing.T) {
	pages := []string{
		"Purpose and intent.\nfirst body",
		"Definitions of terms.\nsecond body",
		"Setback requirements.\nthird body",
	}
	out := stripRepeatedHeaders(pages)
	for i := range pages {
		if !strings.Contains(out[i], strings.Split(pages[i], "\n")[0]) {
			t.Errorf("page %d lost a non-repeating first line", i)
		}
	}
}
