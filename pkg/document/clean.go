package document

import (
	"regexp"
	"strings"
)

const (
	headerCharThresh = 0.6
	headerPageThresh = 0.8
)

// headerSlots are the per-page line positions checked for repeated
// headers and footers: the first two and last two lines.
var headerSlots = []int{0, 1, -2, -1}

func removeBlankPages(pages []string) []string {
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanPDFText joins pages, strips repeated page furniture and
// normalizes conversion artifacts.
func cleanPDFText(pages []string) string {
	cleaned := stripRepeatedHeaders(pages)
	text := strings.Join(cleaned, "\n")
	text = artifactReplacer.Replace(text)
	return collapseBlankLines(text)
}

var artifactReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\x0c", "",
	"\u00a0", " ",
	"•", "-",
)

var (
	trailingSpace  = regexp.MustCompile(`[ \t]+\n`)
	pageNumberLine = regexp.MustCompile(`\n[ \t]*\d+[ \t]*\n`)
	blankRun       = regexp.MustCompile(`\n{3,}`)
)

// collapseBlankLines drops bare page-number lines and squeezes runs of
// blank lines down to paragraph breaks.
func collapseBlankLines(text string) string {
	text = trailingSpace.ReplaceAllString(text, "\n")
	for {
		next := pageNumberLine.ReplaceAllString(text, "\n")
		if next == text {
			break
		}
		text = next
	}
	return blankRun.ReplaceAllString(text, "\n\n")
}

// stripRepeatedHeaders removes lines recurring in the same slot across
// pages. A slot engages when its lines average more than
// headerCharThresh similarity to the slot's most common line; the line
// is then dropped from pages where its own similarity exceeds
// headerPageThresh. Needs at least three pages to vote.
func stripRepeatedHeaders(pages []string) []string {
	if len(pages) < 3 {
		return pages
	}

	split := make([][]string, len(pages))
	for i, p := range pages {
		split[i] = strings.Split(p, "\n")
	}

	nominal := make([]string, len(headerSlots))
	for si, slot := range headerSlots {
		nominal[si] = mostCommonLine(split, slot)
	}

	scores := make([][]float64, len(pages))
	for pi := range split {
		scores[pi] = make([]float64, len(headerSlots))
		for si, slot := range headerSlots {
			line, ok := lineAt(split[pi], slot)
			if !ok {
				continue
			}
			scores[pi][si] = lineSimilarity(nominal[si], line)
		}
	}

	out := make([]string, len(pages))
	for pi, lines := range split {
		drop := make(map[int]bool)
		for si, slot := range headerSlots {
			if meanColumn(scores, si) <= headerCharThresh {
				continue
			}
			if scores[pi][si] <= headerPageThresh {
				continue
			}
			if idx, ok := resolveSlot(lines, slot); ok {
				drop[idx] = true
			}
		}
		if len(drop) == 0 {
			out[pi] = pages[pi]
			continue
		}
		kept := make([]string, 0, len(lines))
		for i, line := range lines {
			if !drop[i] {
				kept = append(kept, line)
			}
		}
		out[pi] = strings.Join(kept, "\n")
	}
	return out
}

func resolveSlot(lines []string, slot int) (int, bool) {
	idx := slot
	if idx < 0 {
		idx += len(lines)
	}
	if idx < 0 || idx >= len(lines) {
		return 0, false
	}
	return idx, true
}

func lineAt(lines []string, slot int) (string, bool) {
	idx, ok := resolveSlot(lines, slot)
	if !ok {
		return "", false
	}
	return lines[idx], true
}

func mostCommonLine(split [][]string, slot int) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, lines := range split {
		line, ok := lineAt(lines, slot)
		if !ok {
			continue
		}
		counts[line]++
		if counts[line] > bestCount {
			best, bestCount = line, counts[line]
		}
	}
	return best
}

// lineSimilarity compares two lines character by character with spaces
// removed, over the longer length.
func lineSimilarity(a, b string) float64 {
	a = strings.ReplaceAll(a, " ", "")
	b = strings.ReplaceAll(b, " ", "")
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if i < len(a) && i < len(b) && a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(n)
}

func meanColumn(scores [][]float64, col int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, row := range scores {
		sum += row[col]
	}
	return sum / float64(len(scores))
}
