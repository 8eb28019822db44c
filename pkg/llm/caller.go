package llm

import (
	"context"
	"strings"

	"github.com/ordexlabs/ordex/pkg/usage"
)

// ChatCall is one logical chat request as submitted to the LLM service:
// the outgoing messages plus the usage record the call should be charged
// to. MaxTokens and Temperature override the configured defaults when set.
type ChatCall struct {
	Messages    []Message
	Usage       *usage.Record
	UsageLabel  string
	MaxTokens   *int
	Temperature *float64
}

// Invoker executes chat calls. The service provider satisfies this by
// routing calls through the rate-limited LLM service; tests satisfy it
// with canned replies. An empty reply with a nil error means the provider
// rejected the prompt as malformed and the call should be treated as
// unanswered.
type Invoker interface {
	Invoke(ctx context.Context, call ChatCall) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, call ChatCall) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, call ChatCall) (string, error) {
	return f(ctx, call)
}

type callerOptions struct {
	usage *usage.Record
	label string
}

type CallerOption func(*callerOptions)

// WithUsage charges calls to the given record.
func WithUsage(record *usage.Record) CallerOption {
	return func(o *callerOptions) {
		o.usage = record
	}
}

// WithUsageLabel sets the sub-label calls are charged under.
func WithUsageLabel(label string) CallerOption {
	return func(o *callerOptions) {
		o.label = label
	}
}

// JSONClause is appended to system prompts that do not already ask for a
// JSON answer.
const JSONClause = "Return your answer in JSON format."

// EnsureJSONClause appends JSONClause to a system prompt unless an
// equivalent instruction is already present, compared case-insensitively.
// The match ignores the trailing period so prompts that continue with a
// schema ("... in JSON format: {...}") count as present.
func EnsureJSONClause(system string) string {
	marker := strings.ToLower(strings.TrimSuffix(JSONClause, "."))
	if strings.Contains(strings.ToLower(system), marker) {
		return system
	}
	if system == "" {
		return JSONClause
	}
	return strings.TrimRight(system, " \t\n") + " " + JSONClause
}

// StructuredCaller issues single-shot prompts that expect a JSON object
// back. The system prompt is amended to ask for JSON, and the reply is
// cleaned and parsed; unanswerable prompts yield an empty map.
type StructuredCaller struct {
	invoker Invoker
	opts    callerOptions
}

func NewStructuredCaller(invoker Invoker, opts ...CallerOption) *StructuredCaller {
	c := &StructuredCaller{invoker: invoker}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// Call sends one system+user prompt pair and parses the JSON reply.
func (c *StructuredCaller) Call(ctx context.Context, system, user string) (map[string]any, error) {
	messages := []Message{
		SystemMessage(EnsureJSONClause(system)),
		UserMessage(user),
	}

	reply, err := c.invoker.Invoke(ctx, ChatCall{
		Messages:   messages,
		Usage:      c.opts.usage,
		UsageLabel: c.opts.label,
	})
	if err != nil {
		return nil, err
	}
	if reply == "" {
		return map[string]any{}, nil
	}
	return ParseJSONReply(ctx, reply), nil
}

// ChatCaller holds a running conversation. Each Call appends the user
// message and, on success, the assistant reply to the transcript, so the
// model sees the whole history every time. Not safe for concurrent use;
// Copy the caller to branch a conversation.
type ChatCaller struct {
	invoker    Invoker
	system     string
	transcript []Message
	opts       callerOptions
}

func NewChatCaller(invoker Invoker, system string, opts ...CallerOption) *ChatCaller {
	c := &ChatCaller{invoker: invoker, system: system}
	for _, opt := range opts {
		opt(&c.opts)
	}
	c.Reset()
	return c
}

// Reset drops the conversation, keeping only the system prompt.
func (c *ChatCaller) Reset() {
	c.transcript = c.transcript[:0]
	if c.system != "" {
		c.transcript = append(c.transcript, SystemMessage(c.system))
	}
}

// Call sends the next user message with the full history attached. The
// user message stays on the transcript even when the call fails, so a
// post-mortem sees what was asked.
func (c *ChatCaller) Call(ctx context.Context, user string) (string, error) {
	c.transcript = append(c.transcript, UserMessage(user))

	reply, err := c.invoker.Invoke(ctx, ChatCall{
		Messages:   c.transcript,
		Usage:      c.opts.usage,
		UsageLabel: c.opts.label,
	})
	if err != nil {
		return "", err
	}

	c.transcript = append(c.transcript, AssistantMessage(reply))
	return reply, nil
}

// Transcript returns a copy of the conversation so far.
func (c *ChatCaller) Transcript() []Message {
	out := make([]Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Copy branches the conversation: the clone shares the invoker and
// options but owns its transcript.
func (c *ChatCaller) Copy() *ChatCaller {
	clone := &ChatCaller{
		invoker:    c.invoker,
		system:     c.system,
		transcript: make([]Message, len(c.transcript)),
		opts:       c.opts,
	}
	copy(clone.transcript, c.transcript)
	return clone
}
