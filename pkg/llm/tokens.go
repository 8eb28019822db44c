package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Chat framing overhead: the provider wraps every message in four tokens
// of scaffolding and primes each reply with three more.
const (
	tokensPerMessage = 4
	tokensPerReply   = 3
)

var (
	encodingCacheMu sync.Mutex
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
)

// getEncoding returns the tokenizer for a model, caching the result.
// Loading an encoding is expensive (it materializes the BPE ranks), so
// one instance is shared per model.
func getEncoding(model string) (*tiktoken.Tiktoken, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return cached, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown models (Azure deployment aliases, future releases) count
		// with the cl100k_base encoding.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer encoding: %w", err)
		}
	}

	encodingCache[model] = encoding
	return encoding, nil
}

// TokenCounter produces provider-accurate token counts for one model.
type TokenCounter struct {
	model  string
	encode func(text string) int
}

// NewTokenCounter builds a counter backed by the model's tiktoken
// encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := getEncoding(model)
	if err != nil {
		return nil, err
	}

	return &TokenCounter{
		model: model,
		encode: func(text string) int {
			return len(encoding.Encode(text, nil, nil))
		},
	}, nil
}

// Model returns the model the counter was built for.
func (tc *TokenCounter) Model() string {
	return tc.model
}

// Count returns the token count of raw text.
func (tc *TokenCounter) Count(text string) int {
	return tc.encode(text)
}

// CountMessages counts an outgoing message list including chat framing
// overhead, matching what the provider will bill as prompt tokens.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	total := tokensPerReply
	for _, msg := range messages {
		total += tokensPerMessage
		total += tc.encode(msg.Role)
		total += tc.encode(msg.Content)
	}
	return total
}
