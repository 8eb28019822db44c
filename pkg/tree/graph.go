// Package tree runs decision graphs against a chat LLM. Each node holds
// a prompt template, each edge a predicate on the model's reply, and a
// traversal walks node to node until it reaches one with no successors.
package tree

import (
	"fmt"
	"regexp"
	"strings"
)

// Entry is the node a traversal starts from by default.
const Entry = "init"

// Condition gates an edge on the reply produced at its source node.
type Condition func(reply string) bool

// StartsWith matches replies beginning with prefix, compared
// case-insensitively after trimming whitespace and quotes.
func StartsWith(prefix string) Condition {
	prefix = strings.ToLower(prefix)
	return func(reply string) bool {
		r := strings.TrimLeft(strings.TrimSpace(reply), `"'`)
		return strings.HasPrefix(strings.ToLower(r), prefix)
	}
}

// Yes/No gates for the usual opening question of an extraction graph.
var (
	StartsWithYes = StartsWith("yes")
	StartsWithNo  = StartsWith("no")
)

type edge struct {
	to   string
	cond Condition
}

type node struct {
	prompt string
	edges  []edge
}

// Graph is a decision graph: prompt nodes joined by optionally
// conditioned edges. Edges keep insertion order, which decides
// precedence when several conditions match a reply. Graph attributes
// are substituted into {placeholder} markers in node prompts.
type Graph struct {
	attrs map[string]string
	nodes map[string]*node
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// NewGraph builds an empty graph over the given attributes.
func NewGraph(attrs map[string]string) *Graph {
	g := &Graph{
		attrs: make(map[string]string, len(attrs)),
		nodes: make(map[string]*node),
	}
	for k, v := range attrs {
		g.attrs[k] = v
	}
	return g
}

// AddNode registers a node with its prompt template. Placeholders in
// the prompt must name graph attributes. An empty prompt marks a
// terminal node: the traversal ends there with the reply already in
// hand, without another chat turn.
func (g *Graph) AddNode(name, prompt string) error {
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("node %q already defined", name)
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(prompt, -1) {
		if _, ok := g.attrs[m[1]]; !ok {
			return fmt.Errorf("node %q references unknown attribute %q", name, m[1])
		}
	}
	g.nodes[name] = &node{prompt: prompt}
	return nil
}

// AddEdge joins two existing nodes. A nil condition makes the edge a
// fallback, taken when no conditioned edge matches.
func (g *Graph) AddEdge(from, to string, cond Condition) error {
	src, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("edge source %q: %w", from, ErrUnknownNode)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("edge target %q: %w", to, ErrUnknownNode)
	}
	src.edges = append(src.edges, edge{to: to, cond: cond})
	return nil
}

// Validate checks the graph is runnable from Entry: the entry node
// exists and no node fans out to several successors without any
// condition to pick one.
func (g *Graph) Validate() error {
	if _, ok := g.nodes[Entry]; !ok {
		return fmt.Errorf("entry node %q: %w", Entry, ErrUnknownNode)
	}
	for name, n := range g.nodes {
		if err := checkDecidable(name, n); err != nil {
			return err
		}
	}
	return nil
}

func checkDecidable(name string, n *node) error {
	if distinctTargets(n.edges) < 2 || anyConditioned(n.edges) {
		return nil
	}
	return fmt.Errorf("node %q has %d outgoing edges and no conditions: %w",
		name, len(n.edges), ErrMalformedGraph)
}

func distinctTargets(edges []edge) int {
	seen := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		seen[e.to] = struct{}{}
	}
	return len(seen)
}

func anyConditioned(edges []edge) bool {
	for _, e := range edges {
		if e.cond != nil {
			return true
		}
	}
	return false
}

func (g *Graph) resolve(prompt string) string {
	return placeholderPattern.ReplaceAllStringFunc(prompt, func(m string) string {
		return g.attrs[m[1:len(m)-1]]
	})
}
