package extract

import "github.com/ordexlabs/ordex/pkg/tree"

// Node prompts for the stock graphs. {feature} is substituted from
// graph attributes; literal JSON braces pass through untouched.
const (
	basePrompt = `Does the ordinance text above set a {feature} for large wind ` +
		`energy conversion systems? Begin your answer with "Yes" or "No".`

	classifierPrompt = `Does the ordinance state a different {feature} for ` +
		`participating landowners, meaning those under agreement with the project, ` +
		`than for non-participating landowners? Begin your answer with "Yes" or "No".`

	multiplierGatePrompt = `Is the {feature} expressed as a multiple of the ` +
		`system's height, such as 1.1 times the tip height? Begin your answer with ` +
		`"Yes" or "No".`

	multiplierPrompt = `Extract the multiplier for the {feature}. Return your ` +
		`answer in JSON format: {"multiplier": number, "mult_type": "tip-height" ` +
		`or "hub-height" or "rotor-diameter", "adder": number of feet added on top ` +
		`of the multiplied height, or null}. Use null for anything the text does ` +
		`not state.`

	fixedPrompt = `Extract the {feature} as a single number. Return your answer ` +
		`in JSON format: {"fixed_value": number, "units": string such as "ft"}. ` +
		`Use null for anything the text does not state.`

	scalarPrompt = `Extract the {feature} for large wind energy conversion ` +
		`systems. Return your answer in JSON format: {"fixed_value": number, ` +
		`"units": string such as "dBA", "hours per year", or "ft"}. Use null for ` +
		`anything the text does not state.`

	boundsPrompt = `Does the ordinance place a minimum or maximum distance on ` +
		`the {feature} computed from that multiplier? Return your answer in JSON ` +
		`format: {"min_value": number or null, "max_value": number or null}.`
)

// OrdinanceGraphs is the stock graph set for county wind ordinances.
type OrdinanceGraphs struct{}

func (OrdinanceGraphs) Base(f Feature) (*tree.Graph, error) {
	b := newGraphBuilder(graphAttrs(f, ""))
	b.node(tree.Entry, basePrompt)
	return b.build()
}

func (OrdinanceGraphs) Classifier(f Feature) (*tree.Graph, error) {
	b := newGraphBuilder(graphAttrs(f, ""))
	b.node(tree.Entry, classifierPrompt)
	return b.build()
}

// Values asks whether the setback is multiplier arithmetic and then, on
// the branch the reply picks, for the numbers themselves. Scalar
// features skip the gate and go straight to a quantity question.
func (OrdinanceGraphs) Values(f Feature, variant string) (*tree.Graph, error) {
	b := newGraphBuilder(graphAttrs(f, variant))
	if f.Scalar {
		b.node(tree.Entry, scalarPrompt)
		return b.build()
	}
	b.node(tree.Entry, multiplierGatePrompt)
	b.node("multiplier", multiplierPrompt)
	b.node("fixed", fixedPrompt)
	b.edge(tree.Entry, "multiplier", tree.StartsWithYes)
	b.edge(tree.Entry, "fixed", nil)
	return b.build()
}

func (OrdinanceGraphs) Conditional(f Feature, variant string) (*tree.Graph, error) {
	b := newGraphBuilder(graphAttrs(f, variant))
	b.node(tree.Entry, boundsPrompt)
	return b.build()
}

func graphAttrs(f Feature, variant string) map[string]string {
	return map[string]string{"feature": qualifiedAsk(f, variant)}
}

// qualifiedAsk narrows the feature phrase to one landowner variant, so
// branched conversations ask about exactly one row's value.
func qualifiedAsk(f Feature, variant string) string {
	if variant == "" {
		return f.Ask
	}
	return f.Ask + " for " + variant + " landowners"
}

// graphBuilder accumulates node and edge definitions, deferring error
// checks to build.
type graphBuilder struct {
	g   *tree.Graph
	err error
}

func newGraphBuilder(attrs map[string]string) *graphBuilder {
	return &graphBuilder{g: tree.NewGraph(attrs)}
}

func (b *graphBuilder) node(name, prompt string) {
	if b.err == nil {
		b.err = b.g.AddNode(name, prompt)
	}
}

func (b *graphBuilder) edge(from, to string, cond tree.Condition) {
	if b.err == nil {
		b.err = b.g.AddEdge(from, to, cond)
	}
}

func (b *graphBuilder) build() (*tree.Graph, error) {
	if b.err == nil {
		b.err = b.g.Validate()
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.g, nil
}
