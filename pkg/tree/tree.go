package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ordexlabs/ordex/pkg/llm"
)

var (
	// ErrUnknownNode marks an edge or traversal referencing a node the
	// graph does not define.
	ErrUnknownNode = errors.New("unknown node")

	// ErrMalformedGraph marks a node whose outgoing edges cannot decide
	// a successor.
	ErrMalformedGraph = errors.New("decision graph is malformed")

	// ErrNoEdgeMatched marks a reply no outgoing edge accepted.
	ErrNoEdgeMatched = errors.New("no edge matched the reply")
)

// TraversalError reports where a traversal failed and what the model
// said last. The chat caller keeps its transcript, so a post-mortem can
// log the whole conversation.
type TraversalError struct {
	Node      string
	Path      []string
	LastReply string
	Err       error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("decision tree failed at node %q (path %s): %v; last reply: %q",
		e.Node, strings.Join(e.Path, " -> "), e.Err, e.LastReply)
}

func (e *TraversalError) Unwrap() error { return e.Err }

// IsTraversalError reports whether err is a decision-tree failure.
func IsTraversalError(err error) bool {
	var te *TraversalError
	return errors.As(err, &te)
}

// Tree couples a decision graph with the chat caller answering its
// prompts. Like the caller, a Tree is not safe for concurrent use.
type Tree struct {
	graph  *Graph
	chat   *llm.ChatCaller
	logger *slog.Logger
	path   []string
}

type Option func(*Tree)

// WithLogger routes traversal logs to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tree) {
		t.logger = logger
	}
}

// New builds a tree over graph, answered by chat.
func New(graph *Graph, chat *llm.ChatCaller, opts ...Option) *Tree {
	t := &Tree{graph: graph, chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Chat returns the caller driving this tree, for transcript inspection.
func (t *Tree) Chat() *llm.ChatCaller { return t.chat }

// Run traverses from Entry. See RunFrom.
func (t *Tree) Run(ctx context.Context) (string, error) {
	return t.RunFrom(ctx, Entry)
}

// RunFrom walks the graph from start. Each prompted node sends one chat
// turn and the reply picks the outgoing edge: the first conditioned
// edge whose condition accepts the reply wins, else the first
// unconditioned edge. The reply in hand at a node with no successors is
// the tree's answer. Each run resets the traversal path but not the
// chat transcript; a fresh conversation needs chat.Reset first.
func (t *Tree) RunFrom(ctx context.Context, start string) (string, error) {
	t.path = t.path[:0]
	name := start
	var reply string
	for {
		n, ok := t.graph.nodes[name]
		if !ok {
			return "", t.fail(name, reply, fmt.Errorf("%w: %q", ErrUnknownNode, name))
		}
		t.path = append(t.path, name)

		if n.prompt != "" {
			t.logger.DebugContext(ctx, "Decision tree prompting node", "node", name)
			r, err := t.chat.Call(ctx, t.graph.resolve(n.prompt))
			if err != nil {
				return "", t.fail(name, reply, err)
			}
			reply = r
		}

		if len(n.edges) == 0 {
			return reply, nil
		}
		if err := checkDecidable(name, n); err != nil {
			return "", t.fail(name, reply, err)
		}
		next, ok := nextEdge(n.edges, reply)
		if !ok {
			return "", t.fail(name, reply, ErrNoEdgeMatched)
		}
		name = next
	}
}

func (t *Tree) fail(node, reply string, err error) error {
	return &TraversalError{
		Node:      node,
		Path:      append([]string(nil), t.path...),
		LastReply: reply,
		Err:       err,
	}
}

func nextEdge(edges []edge, reply string) (string, bool) {
	for _, e := range edges {
		if e.cond != nil && e.cond(reply) {
			return e.to, true
		}
	}
	for _, e := range edges {
		if e.cond == nil {
			return e.to, true
		}
	}
	return "", false
}
