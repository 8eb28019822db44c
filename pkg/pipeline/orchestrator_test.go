package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/extract"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/observability"
	"github.com/ordexlabs/ordex/pkg/roster"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// fakeClient answers chat completions by routing on message content, so
// runs through the real provider and LLM service stay scripted.
type fakeClient struct {
	mu    sync.Mutex
	rules []route
}

func (c *fakeClient) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reply, err := replyFor(c.rules, req.Messages)
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Choices: []llm.Choice{{Message: llm.AssistantMessage(reply), FinishReason: "stop"}},
		Usage:   llm.Usage{PromptTokens: 12, CompletionTokens: 6, TotalTokens: 18},
	}, nil
}

func (c *fakeClient) Model() string { return "test-model" }

// locationEngine answers searches per location, keyed on the location
// name embedded in every query.
type locationEngine struct {
	byName  map[string][][]string
	panicOn string
}

func (e *locationEngine) Results(_ context.Context, queries []string, _ int) ([][]string, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if e.panicOn != "" && strings.Contains(queries[0], e.panicOn) {
		panic("browser exploded")
	}
	for name, lists := range e.byName {
		if strings.Contains(queries[0], name) {
			return lists, nil
		}
	}
	return nil, nil
}

func TestOrchestrator_RunAggregatesTables(t *testing.T) {
	cfg := testConfig(t)

	cacheFile := filepath.Join(t.TempDir(), "cache-1.pdf")
	if err := os.WriteFile(cacheFile, []byte("%PDF-1.4 fake"), 0644); err != nil {
		t.Fatal(err)
	}
	goodDoc := document.NewPDF([]string{goodPage})
	goodDoc.Meta.Source = "https://decaturcounty.in.gov/wecs.pdf"
	goodDoc.Meta.CacheFile = cacheFile

	engine := &locationEngine{byName: map[string][][]string{
		"Decatur": {{goodDoc.Meta.Source}},
	}}
	recorder := newCaptureRecorder()
	observability.SetGlobalRecorder(recorder)
	t.Cleanup(func() { observability.SetGlobalRecorder(nil) })

	orch := NewOrchestrator(cfg,
		WithEngine(engine),
		WithClient(&fakeClient{rules: happyRoutes()}),
		WithTokenCounter(wordCounter{}),
		WithLoader(&fakeLoader{docs: map[string]*document.Document{goodDoc.Meta.Source: goodDoc}}),
		WithOrchestratorLogger(quietLogger()))

	locations := []roster.Location{
		{Name: "Decatur", State: "Indiana"},
		{Name: "Story", State: "Iowa"},
	}
	result, err := orch.Run(context.Background(), locations)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Total != 2 || result.Found != 1 {
		t.Errorf("Run() found %d of %d, want 1 of 2", result.Found, result.Total)
	}
	if result.Elapsed <= 0 {
		t.Errorf("Run() elapsed = %v, want positive", result.Elapsed)
	}
	if !reflect.DeepEqual(result.Header, (&extract.Table{}).Header()) {
		t.Errorf("Run() header = %v", result.Header)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("Run() produced %d rows, want 1", len(result.Rows))
	}
	if result.Rows[0][0] != "Decatur County, Indiana" || result.Rows[0][1] != "noise" {
		t.Errorf("row = %v", result.Rows[0])
	}

	// Both completed locations reach the usage report; the miss counts
	// its wall time too.
	report, err := usage.NewStore(cfg.UsageFile()).Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Decatur County, Indiana", "Story County, Iowa"} {
		if _, ok := report[name]; !ok {
			t.Errorf("usage report missing %q", name)
		}
	}
	// Provider-routed calls charge real token counts from the response.
	if entry := report["Decatur County, Indiana"]; len(entry.Labels) == 0 {
		t.Error("found location has no labeled usage")
	}

	if recorder.outcomes[observability.OutcomeFound] != 1 ||
		recorder.outcomes[observability.OutcomeEmpty] != 1 {
		t.Errorf("outcomes = %v, want one found and one empty", recorder.outcomes)
	}

	if data, err := os.ReadFile(filepath.Join(cfg.DocDir, "Decatur County, Indiana.pdf")); err != nil || string(data) != "%PDF-1.4 fake" {
		t.Errorf("stored document = %q, %v", data, err)
	}
}

func TestOrchestrator_PanicIsContained(t *testing.T) {
	cfg := testConfig(t)
	engine := &locationEngine{panicOn: "Decatur"}
	recorder := newCaptureRecorder()
	observability.SetGlobalRecorder(recorder)
	t.Cleanup(func() { observability.SetGlobalRecorder(nil) })

	orch := NewOrchestrator(cfg,
		WithEngine(engine),
		WithClient(&fakeClient{}),
		WithTokenCounter(wordCounter{}),
		WithLoader(&fakeLoader{}),
		WithOrchestratorLogger(quietLogger()))

	result, err := orch.Run(context.Background(), []roster.Location{
		{Name: "Decatur", State: "Indiana"},
		{Name: "Story", State: "Iowa"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Found != 0 || result.Total != 2 || len(result.Rows) != 0 {
		t.Errorf("Run() = %+v, want no findings from 2 locations", result)
	}
	if recorder.outcomes[observability.OutcomeFailed] != 1 ||
		recorder.outcomes[observability.OutcomeEmpty] != 1 {
		t.Errorf("outcomes = %v, want one failed and one empty", recorder.outcomes)
	}
}

func TestOrchestrator_RunWithNoLocations(t *testing.T) {
	cfg := testConfig(t)
	orch := NewOrchestrator(cfg,
		WithEngine(&locationEngine{}),
		WithClient(&fakeClient{}),
		WithTokenCounter(wordCounter{}),
		WithLoader(&fakeLoader{}),
		WithOrchestratorLogger(quietLogger()))

	result, err := orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Found != 0 || result.Total != 0 || len(result.Rows) != 0 {
		t.Errorf("Run() = %+v, want empty result", result)
	}
}
