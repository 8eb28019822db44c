package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/httpclient"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/observability"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// LLMServiceName is the queue name chat calls are submitted under.
const LLMServiceName = "llm"

// TokenCounter estimates what the provider will bill for an outgoing
// message list. llm.TokenCounter satisfies it; tests plug in fixed
// counts.
type TokenCounter interface {
	CountMessages(messages []llm.Message) int
}

// LLMService executes chat calls against the provider while honoring a
// token budget per sliding window. CanProcess refuses admission while the
// window is saturated, so queued calls wait for eviction instead of
// burning provider-side rate limit errors.
type LLMService struct {
	client    llm.Client
	counter   TokenCounter
	tracker   *usage.Tracker
	rateLimit int
	logger    *slog.Logger
}

type LLMServiceOption func(*LLMService)

// WithRateWindow overrides the sliding-window size. Tests use it to keep
// eviction waits short.
func WithRateWindow(window time.Duration) LLMServiceOption {
	return func(s *LLMService) {
		s.tracker = usage.NewTracker(window)
	}
}

func WithLLMLogger(logger *slog.Logger) LLMServiceOption {
	return func(s *LLMService) {
		s.logger = logger
	}
}

// NewLLMService builds the service from the LLM config: rate_limit tokens
// per rate_window seconds.
func NewLLMService(client llm.Client, counter TokenCounter, cfg *config.LLMConfig, opts ...LLMServiceOption) *LLMService {
	window := time.Duration(cfg.RateWindow) * time.Second
	if window <= 0 {
		window = 65 * time.Second
	}

	s := &LLMService{
		client:    client,
		counter:   counter,
		tracker:   usage.NewTracker(window),
		rateLimit: cfg.RateLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LLMService) Name() string {
	return LLMServiceName
}

// CanProcess admits the next call while the window still has headroom.
func (s *LLMService) CanProcess() bool {
	if s.rateLimit <= 0 {
		return true
	}
	return s.tracker.Total() < s.rateLimit
}

// Process executes one llm.ChatCall. The sliding window is charged with
// the outgoing prompt estimate before the request goes out and trued up
// from the provider's reported usage afterwards; transport retries inside
// the client never charge twice. The per-call usage record is only
// touched on success. Bad-request rejections resolve to an empty reply
// instead of an error.
func (s *LLMService) Process(ctx context.Context, req any) (any, error) {
	call, ok := req.(llm.ChatCall)
	if !ok {
		return nil, fmt.Errorf("llm service: unexpected request type %T", req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	promptEstimate := s.counter.CountMessages(call.Messages)
	s.tracker.Add(promptEstimate)

	request := llm.Request{
		Messages:  call.Messages,
		MaxTokens: call.MaxTokens,
	}
	if call.Temperature != nil {
		request.Temperature = *call.Temperature
	}

	start := time.Now()
	response, err := s.client.Chat(ctx, request)
	if err != nil {
		observability.GetGlobalRecorder().RecordLLMCall(call.UsageLabel, time.Since(start), 0, 0, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if httpclient.IsBadRequest(err) {
			s.logger.WarnContext(ctx, "Provider rejected chat request, returning empty reply",
				"error", err)
			return "", nil
		}
		return nil, err
	}
	observability.GetGlobalRecorder().RecordLLMCall(call.UsageLabel, time.Since(start),
		response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)

	if diff := response.Usage.PromptTokens - promptEstimate; diff > 0 {
		s.tracker.Add(diff)
	}
	if call.Usage != nil {
		call.Usage.Add(call.UsageLabel, response.Usage.PromptTokens, response.Usage.CompletionTokens)
	}

	return response.Content(), nil
}

// WindowTotal exposes the current window charge, mainly for tests and
// metrics.
func (s *LLMService) WindowTotal() int {
	return s.tracker.Total()
}

// LLMInvoker routes chat calls through the provider's LLM service queue,
// satisfying llm.Invoker for the callers built on top.
type LLMInvoker struct {
	provider *Provider
}

func NewLLMInvoker(provider *Provider) *LLMInvoker {
	return &LLMInvoker{provider: provider}
}

func (i *LLMInvoker) Invoke(ctx context.Context, call llm.ChatCall) (string, error) {
	result, err := i.provider.Call(ctx, LLMServiceName, call)
	if err != nil {
		return "", err
	}
	reply, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("llm service returned %T, expected string", result)
	}
	return reply, nil
}
