package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ordexlabs/ordex/pkg/llm"
)

// ChunkValidator answers yes/no questions about chunks of a document and
// remembers every answer. Look-back lets a question about chunk i be
// satisfied by a recent chunk's recorded answer, so a requirement found
// near a section heading keeps counting for the text that follows it.
type ChunkValidator struct {
	caller   *llm.StructuredCaller
	chunks   []string
	memo     []map[string]bool
	lookBack int
	gate     *Keywords
}

type ChunkValidatorOption func(*ChunkValidator)

// WithGate short-circuits chunks failing the keyword heuristic to a
// false answer without an LLM call.
func WithGate(k Keywords) ChunkValidatorOption {
	return func(v *ChunkValidator) {
		v.gate = &k
	}
}

// NewChunkValidator builds a validator over the chunk texts. lookBack is
// how many chunks, counting the asked one, a question may consult.
func NewChunkValidator(caller *llm.StructuredCaller, chunks []string, lookBack int, opts ...ChunkValidatorOption) *ChunkValidator {
	if lookBack < 1 {
		lookBack = 1
	}
	v := &ChunkValidator{
		caller:   caller,
		chunks:   chunks,
		memo:     make([]map[string]bool, len(chunks)),
		lookBack: lookBack,
	}
	for i := range v.memo {
		v.memo[i] = make(map[string]bool)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CheckChunk answers the question for chunk i alone, from memory when it
// was asked before.
func (v *ChunkValidator) CheckChunk(ctx context.Context, i int, systemTemplate, key string) (bool, error) {
	return v.answer(ctx, i, systemTemplate, key)
}

// ParseFromIndex answers the question for chunk i, accepting a true
// answer from any of the lookBack most recent chunks. Chunks are
// consulted newest first and the first true wins.
func (v *ChunkValidator) ParseFromIndex(ctx context.Context, i int, systemTemplate, key string) (bool, error) {
	low := i - v.lookBack + 1
	if low < 0 {
		low = 0
	}
	for j := i; j >= low; j-- {
		ok, err := v.answer(ctx, j, systemTemplate, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (v *ChunkValidator) answer(ctx context.Context, i int, systemTemplate, key string) (bool, error) {
	if i < 0 || i >= len(v.chunks) {
		return false, fmt.Errorf("chunk index %d out of range (%d chunks)", i, len(v.chunks))
	}
	if cached, ok := v.memo[i][key]; ok {
		return cached, nil
	}
	if v.gate != nil && !v.gate.Match(v.chunks[i]) {
		v.memo[i][key] = false
		return false, nil
	}

	system := strings.ReplaceAll(systemTemplate, "{key}", key)
	reply, err := v.caller.Call(ctx, system, v.chunks[i])
	if err != nil {
		return false, err
	}
	result := llm.AsBool(reply[key])
	v.memo[i][key] = result
	return result, nil
}
