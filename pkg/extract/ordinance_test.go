package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ordexlabs/ordex/pkg/llm"
)

func TestOrdinanceExtractor_ScanRecordsHitsAndMasks(t *testing.T) {
	chunks := []string{
		"Purpose and administration of this chapter.",
		"Wind energy conversion systems are permitted with conditions.",
		"Setbacks: 1.1 times tip height from property lines.",
		"Fees and enforcement provisions.",
		"Appendix tables and forms.",
		"Turbine height limits apply countywide.",
	}
	invoker := &routeInvoker{rules: []route{
		{system: `"legal_text"`, reply: `{"legal_text": true}`},
		{system: `"contains_ord_info"`, user: "Setbacks", reply: `{"contains_ord_info": true}`},
		{system: `"contains_ord_info"`, reply: `{"contains_ord_info": false}`},
		{system: `"utility_scale"`, user: "Setbacks", reply: `{"utility_scale": true}`},
		{system: `"utility_scale"`, reply: `{"utility_scale": false}`},
	}}
	e := NewOrdinanceExtractor(llm.NewStructuredCaller(invoker), chunks, WithMinChunks(2))

	hits, err := e.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Index != 2 || hits[0].Text != chunks[2] {
		t.Fatalf("Extract() = %+v, want one hit at chunk 2", hits)
	}

	// The hit masked chunk 2's domain vote, so chunks 3 and 4 fall out
	// of the recall window and are never asked about directly. The
	// turbine chunk carries a fresh keyword, which resumes the scan and
	// consults the appendix chunk once through look-back.
	var fees, appendix, turbine int
	for _, call := range invoker.seen() {
		user := lastUserContent(call)
		if strings.Contains(user, "Fees") {
			fees++
		}
		if strings.Contains(user, "Appendix") {
			appendix++
		}
		if strings.Contains(user, "Turbine") {
			turbine++
		}
	}
	if fees != 0 {
		t.Errorf("fees chunk was asked about %d times, want 0", fees)
	}
	if appendix != 1 {
		t.Errorf("appendix chunk was asked about %d times, want 1 look-back consult", appendix)
	}
	if turbine != 1 {
		t.Errorf("turbine chunk was asked about %d times, want 1", turbine)
	}
	if calls := invoker.seen(); len(calls) != 8 {
		t.Errorf("invoker saw %d calls, want 8", len(calls))
	}

	// Reconstruction pulls in the neighbors around the hit. None of
	// these chunks share boundary text, so they join on newlines.
	want := chunks[1] + "\n" + chunks[2] + "\n" + chunks[3]
	if got := e.Text(hits); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestOrdinanceExtractor_StopsWhenNotLegalText(t *testing.T) {
	chunks := []string{
		"Meeting minutes about the wind farm proposal.",
		"More wind farm discussion from the board.",
		"Wind farm comments from residents.",
		"Wind farm schedule.",
	}
	invoker := &routeInvoker{rules: []route{
		{system: `"legal_text"`, reply: `{"legal_text": false}`},
	}}
	e := NewOrdinanceExtractor(llm.NewStructuredCaller(invoker), chunks, WithMinChunks(2))

	hits, err := e.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Extract() = %+v, want no hits", hits)
	}

	calls := invoker.seen()
	if len(calls) != 2 {
		t.Fatalf("invoker saw %d calls, want 2 legal-text checks before stopping", len(calls))
	}
	for _, call := range calls {
		if !strings.Contains(systemContent(call), `"legal_text"`) {
			t.Errorf("unexpected question after scan stopped: %q", systemContent(call))
		}
	}
}

func TestOrdinanceExtractor_LookBackCarriesHits(t *testing.T) {
	chunks := []string{
		"Wind setback provisions: one quarter mile.",
		"The same distance governs accessory wind structures.",
	}
	invoker := &routeInvoker{rules: []route{
		{system: `"legal_text"`, reply: `{"legal_text": true}`},
		{system: `"contains_ord_info"`, user: "quarter mile", reply: `{"contains_ord_info": true}`},
		{system: `"contains_ord_info"`, reply: `{"contains_ord_info": false}`},
		{system: `"utility_scale"`, user: "quarter mile", reply: `{"utility_scale": true}`},
		{system: `"utility_scale"`, reply: `{"utility_scale": false}`},
	}}
	e := NewOrdinanceExtractor(llm.NewStructuredCaller(invoker), chunks, WithMinChunks(1))

	hits, err := e.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	// Chunk 1 fails its own checks but inherits chunk 0's recorded
	// answers through the recall window.
	if len(hits) != 2 || hits[0].Index != 0 || hits[1].Index != 1 {
		t.Fatalf("Extract() = %+v, want hits at chunks 0 and 1", hits)
	}

	if got, want := e.Text(hits), chunks[0]+"\n"+chunks[1]; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if got := e.Text(nil); got != "" {
		t.Errorf("Text(nil) = %q, want empty", got)
	}
}

func TestOrdinanceExtractor_PropagatesErrors(t *testing.T) {
	boom := errors.New("service down")
	invoker := &scriptedInvoker{err: boom}
	e := NewOrdinanceExtractor(llm.NewStructuredCaller(invoker), []string{"wind chunk"}, WithMinChunks(1))

	if _, err := e.Extract(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Extract() error = %v, want %v", err, boom)
	}
}

func TestMergeOverlapping(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		n     int
		want  string
	}{
		{"single text unchanged", []string{"alpha"}, 300, "alpha"},
		{"empty texts skipped", []string{"", "alpha", ""}, 300, "alpha"},
		{
			"shared boundary spliced",
			[]string{"Section 1.\n\nSection 2.", "Section 2.\n\nSection 3."},
			300,
			"Section 1.\n\nSection 2.\n\nSection 3.",
		},
		{
			"disjoint joined with newline",
			[]string{"alpha rules", "bravo rules"},
			300,
			"alpha rules\nbravo rules",
		},
		{"match outside window joins", []string{"abcdef", "abX"}, 2, "abcdef\nabX"},
		{"match inside window splices", []string{"abcdef", "abX"}, 3, "abX"},
		{"window floor of one", []string{"ab", "bc"}, 0, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeOverlapping(tt.texts, tt.n); got != tt.want {
				t.Errorf("MergeOverlapping(%v, %d) = %q, want %q", tt.texts, tt.n, got, tt.want)
			}
		})
	}
}
