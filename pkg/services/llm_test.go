package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/httpclient"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// fakeChatClient scripts provider responses without touching the network.
type fakeChatClient struct {
	mu       sync.Mutex
	requests []llm.Request
	times    []time.Time
	reply    string
	usage    llm.Usage
	err      error
}

func (c *fakeChatClient) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.times = append(c.times, time.Now())
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{
		Choices: []llm.Choice{{Message: llm.AssistantMessage(c.reply)}},
		Usage:   c.usage,
	}, nil
}

func (c *fakeChatClient) Model() string { return "fake-model" }

// fixedCounter bills every message list the same number of tokens.
type fixedCounter struct{ tokens int }

func (c fixedCounter) CountMessages([]llm.Message) int { return c.tokens }

func llmTestConfig(rateLimit int) *config.LLMConfig {
	return &config.LLMConfig{RateLimit: rateLimit, RateWindow: 65}
}

func TestLLMService_ChargesUsageOnSuccess(t *testing.T) {
	client := &fakeChatClient{
		reply: `{"setback_ft": 500}`,
		usage: llm.Usage{PromptTokens: 40, CompletionTokens: 7, TotalTokens: 47},
	}
	svc := NewLLMService(client, fixedCounter{tokens: 25}, llmTestConfig(4000))

	record := usage.NewRecord()
	maxTokens := 128
	temperature := 0.5
	call := llm.ChatCall{
		Messages:    []llm.Message{llm.UserMessage("What is the setback?")},
		Usage:       record,
		UsageLabel:  "ordinance",
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	result, err := svc.Process(context.Background(), call)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result != `{"setback_ft": 500}` {
		t.Errorf("result = %v", result)
	}

	counts := record.Get("ordinance")
	if counts.Requests != 1 || counts.PromptTokens != 40 || counts.ResponseTokens != 7 {
		t.Errorf("counts = %+v", counts)
	}

	// Window charged with the estimate up front and trued up to the
	// provider's larger prompt count.
	if got := svc.WindowTotal(); got != 40 {
		t.Errorf("WindowTotal = %d, want 40", got)
	}

	req := client.requests[0]
	if req.MaxTokens == nil || *req.MaxTokens != 128 {
		t.Errorf("MaxTokens = %v", req.MaxTokens)
	}
	if req.Temperature != 0.5 {
		t.Errorf("Temperature = %v", req.Temperature)
	}
}

func TestLLMService_NoTrueUpWhenEstimateHigh(t *testing.T) {
	client := &fakeChatClient{
		reply: "ok",
		usage: llm.Usage{PromptTokens: 10, CompletionTokens: 2},
	}
	svc := NewLLMService(client, fixedCounter{tokens: 30}, llmTestConfig(4000))

	if _, err := svc.Process(context.Background(), llm.ChatCall{
		Messages: []llm.Message{llm.UserMessage("hi")},
	}); err != nil {
		t.Fatal(err)
	}
	if got := svc.WindowTotal(); got != 30 {
		t.Errorf("WindowTotal = %d, want 30", got)
	}
}

func TestLLMService_BadRequestReturnsEmptyReply(t *testing.T) {
	client := &fakeChatClient{
		err: &httpclient.BadRequestError{StatusCode: 400, Body: "context length exceeded"},
	}
	svc := NewLLMService(client, fixedCounter{tokens: 5}, llmTestConfig(4000))

	record := usage.NewRecord()
	result, err := svc.Process(context.Background(), llm.ChatCall{
		Messages:   []llm.Message{llm.UserMessage("way too long")},
		Usage:      record,
		UsageLabel: "chunk",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result != "" {
		t.Errorf("result = %v, want empty reply", result)
	}

	// The prompt was submitted, so the window keeps its charge, but the
	// per-call record sees nothing.
	if got := svc.WindowTotal(); got != 5 {
		t.Errorf("WindowTotal = %d, want 5", got)
	}
	if counts := record.Get("chunk"); counts.Requests != 0 {
		t.Errorf("record charged on bad request: %+v", counts)
	}
}

func TestLLMService_ErrorPropagates(t *testing.T) {
	wantErr := errors.New("giving up after 5 attempts")
	client := &fakeChatClient{err: wantErr}
	svc := NewLLMService(client, fixedCounter{tokens: 5}, llmTestConfig(4000))

	record := usage.NewRecord()
	_, err := svc.Process(context.Background(), llm.ChatCall{
		Messages: []llm.Message{llm.UserMessage("hello")},
		Usage:    record,
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if counts := record.Get(""); counts.Requests != 0 {
		t.Errorf("record charged on failure: %+v", counts)
	}
}

func TestLLMService_CancelledContext(t *testing.T) {
	client := &fakeChatClient{reply: "unused"}
	svc := NewLLMService(client, fixedCounter{tokens: 5}, llmTestConfig(4000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Process(ctx, llm.ChatCall{Messages: []llm.Message{llm.UserMessage("hi")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(client.requests) != 0 {
		t.Error("client called despite cancelled context")
	}
	if got := svc.WindowTotal(); got != 0 {
		t.Errorf("WindowTotal = %d, want 0", got)
	}
}

func TestLLMService_UnexpectedRequestType(t *testing.T) {
	svc := NewLLMService(&fakeChatClient{}, fixedCounter{tokens: 1}, llmTestConfig(0))
	if _, err := svc.Process(context.Background(), 42); err == nil || !strings.Contains(err.Error(), "unexpected request type") {
		t.Fatalf("error = %v", err)
	}
}

func TestLLMService_RateLimitDisabled(t *testing.T) {
	svc := NewLLMService(&fakeChatClient{reply: "ok"}, fixedCounter{tokens: 1000}, llmTestConfig(0))
	for i := 0; i < 3; i++ {
		if _, err := svc.Process(context.Background(), llm.ChatCall{
			Messages: []llm.Message{llm.UserMessage("hi")},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if !svc.CanProcess() {
		t.Error("CanProcess = false with rate limiting disabled")
	}
}

// Four one-token calls against a three-token window: the first three run
// back to back, the fourth waits for the oldest charge to leave the
// window, and resolution order stays first-in first-out throughout.
func TestLLMService_RateWindowThrottles(t *testing.T) {
	const window = 300 * time.Millisecond

	client := &fakeChatClient{
		reply: "ok",
		usage: llm.Usage{PromptTokens: 1, CompletionTokens: 1},
	}
	svc := NewLLMService(client, fixedCounter{tokens: 1}, llmTestConfig(3),
		WithRateWindow(window))

	p := NewProvider(WithPollInterval(10 * time.Millisecond))
	if err := p.Register(svc); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	start := time.Now()
	const n = 4
	resolved := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call := llm.ChatCall{Messages: []llm.Message{llm.UserMessage("q")}}
			if _, err := p.Call(context.Background(), LLMServiceName, call); err != nil {
				t.Errorf("Call(%d): %v", i, err)
				return
			}
			resolved <- i
		}(i)
		time.Sleep(15 * time.Millisecond)
	}
	wg.Wait()
	close(resolved)

	want := 0
	for got := range resolved {
		if got != want {
			t.Fatalf("resolution order: got %d, want %d", got, want)
		}
		want++
	}

	if len(client.times) != n {
		t.Fatalf("client saw %d calls, want %d", len(client.times), n)
	}
	if gap := client.times[2].Sub(start); gap >= window {
		t.Errorf("third call delayed %v, should run inside the window", gap)
	}
	if gap := client.times[3].Sub(start); gap < window {
		t.Errorf("fourth call ran after %v, want at least %v", gap, window)
	}
}

func TestLLMInvoker_RoundTrip(t *testing.T) {
	client := &fakeChatClient{
		reply: `{"found": true}`,
		usage: llm.Usage{PromptTokens: 12, CompletionTokens: 4},
	}
	svc := NewLLMService(client, fixedCounter{tokens: 10}, llmTestConfig(4000))
	p := startedProvider(t, svc)
	defer func() { _ = p.Shutdown(context.Background()) }()

	invoker := NewLLMInvoker(p)
	reply, err := invoker.Invoke(context.Background(), llm.ChatCall{
		Messages: []llm.Message{llm.UserMessage("is it there?")},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if reply != `{"found": true}` {
		t.Errorf("reply = %q", reply)
	}
}
