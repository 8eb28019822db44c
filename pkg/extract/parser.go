package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/tree"
	"github.com/ordexlabs/ordex/pkg/usage"
)

const defaultMaxAdderFeet = 250

// Variants for features whose value depends on the landowner's
// relationship to the project.
const (
	VariantParticipating    = "participating"
	VariantNonParticipating = "non-participating"
)

// Feature names one extraction target. Setback features measure a
// distance from the named object and may use height-multiplier
// arithmetic; scalar features are plain quantities with units.
type Feature struct {
	// Name keys the feature in configuration and in output rows.
	Name string

	// Ask is the noun phrase prompts are built around, for example
	// "setback from occupied buildings".
	Ask string

	// Scalar marks quantities that never use multiplier arithmetic.
	Scalar bool

	// Variants marks features an ordinance may split into participating
	// and non-participating rows.
	Variants bool
}

// BuiltinFeatures is the stock wind ordinance feature set. Setbacks
// from buildings and property lines commonly depend on whether the
// landowner participates in the project; the rest do not.
var BuiltinFeatures = []Feature{
	{Name: "structures", Ask: "setback from occupied buildings or residences", Variants: true},
	{Name: "property lines", Ask: "setback from property lines", Variants: true},
	{Name: "roads", Ask: "setback from public roads or rights-of-way"},
	{Name: "railroads", Ask: "setback from railroads"},
	{Name: "transmission lines", Ask: "setback from overhead transmission or utility lines"},
	{Name: "water", Ask: "setback from water wells or bodies of water"},
	{Name: "noise", Ask: "maximum sound level", Scalar: true},
	{Name: "shadow flicker", Ask: "maximum shadow flicker exposure", Scalar: true},
	{Name: "height", Ask: "maximum system height", Scalar: true},
	{Name: "lot size", Ask: "minimum lot size", Scalar: true},
	{Name: "density", Ask: "maximum project density", Scalar: true},
}

func featureByName(name string) (Feature, bool) {
	for _, f := range BuiltinFeatures {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// GraphFactory builds the decision graphs the parser walks for one
// feature. Implementations own the prompt wording; the parser owns the
// control flow between graphs.
type GraphFactory interface {
	// Base asks whether the ordinance covers the feature at all.
	Base(f Feature) (*tree.Graph, error)

	// Classifier asks whether participating and non-participating
	// variants are regulated separately. Called only when f.Variants.
	Classifier(f Feature) (*tree.Graph, error)

	// Values extracts the numbers: multiplier arithmetic for setback
	// features, a plain quantity for scalar ones.
	Values(f Feature, variant string) (*tree.Graph, error)

	// Conditional asks for the min/max bounds attached to a multiplier
	// expression. Called only when Values found a multiplier.
	Conditional(f Feature, variant string) (*tree.Graph, error)
}

// Row is one extracted quantity. Pointer fields are nil when the
// ordinance does not state the value.
type Row struct {
	Feature    string
	Variant    string
	FixedValue *float64
	Units      string
	Multiplier *float64
	MultType   string
	Adder      *float64
	MinValue   *float64
	MaxValue   *float64
}

// Empty reports whether the row carries no extracted numbers.
func (r Row) Empty() bool {
	return r.FixedValue == nil && r.Multiplier == nil && r.Adder == nil &&
		r.MinValue == nil && r.MaxValue == nil
}

// Table is the tabular extraction result for one location. Rows keep
// feature order, so output files are stable across runs.
type Table struct {
	Location string
	Rows     []Row
}

// Header returns the column names Records rows follow.
func (t *Table) Header() []string {
	return []string{
		"location", "feature", "variant", "fixed_value", "units",
		"multiplier", "mult_type", "adder", "min_value", "max_value",
	}
}

// Records renders the rows as strings for tabular output. Nil numbers
// render as empty cells.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, []string{
			t.Location, r.Feature, r.Variant,
			formatNumber(r.FixedValue), r.Units,
			formatNumber(r.Multiplier), r.MultType,
			formatNumber(r.Adder),
			formatNumber(r.MinValue), formatNumber(r.MaxValue),
		})
	}
	return out
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// StructuredParser turns cleaned ordinance text into a table of
// quantities, one decision-tree conversation per feature. Feature tasks
// run concurrently; within a task, turns share one chat transcript so
// later questions can lean on earlier answers.
type StructuredParser struct {
	invoker      llm.Invoker
	target       Target
	graphs       GraphFactory
	features     []Feature
	featureNames []string
	maxAdder     float64
	usage        *usage.Record
	logger       *slog.Logger
}

type ParserOption func(*StructuredParser)

// WithFeatures restricts extraction to the named built-in features.
func WithFeatures(names ...string) ParserOption {
	return func(p *StructuredParser) {
		p.featureNames = names
	}
}

// WithGraphFactory swaps in a different graph set, for example one with
// prompts tuned to another technology.
func WithGraphFactory(f GraphFactory) ParserOption {
	return func(p *StructuredParser) {
		p.graphs = f
	}
}

// WithMaxAdderFeet sets the threshold above which a multiplier adder is
// reclassified as the whole fixed value.
func WithMaxAdderFeet(feet float64) ParserOption {
	return func(p *StructuredParser) {
		if feet > 0 {
			p.maxAdder = feet
		}
	}
}

// WithParserUsage charges parser calls to the given record.
func WithParserUsage(record *usage.Record) ParserOption {
	return func(p *StructuredParser) {
		p.usage = record
	}
}

// WithParserLogger routes parser logs to the given logger.
func WithParserLogger(logger *slog.Logger) ParserOption {
	return func(p *StructuredParser) {
		p.logger = logger
	}
}

// NewStructuredParser builds a parser for the target location. Unknown
// feature names are a configuration error.
func NewStructuredParser(invoker llm.Invoker, target Target, opts ...ParserOption) (*StructuredParser, error) {
	p := &StructuredParser{
		invoker:  invoker,
		target:   target,
		graphs:   OrdinanceGraphs{},
		features: BuiltinFeatures,
		maxAdder: defaultMaxAdderFeet,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.featureNames) > 0 {
		features := make([]Feature, 0, len(p.featureNames))
		for _, name := range p.featureNames {
			f, ok := featureByName(name)
			if !ok {
				return nil, fmt.Errorf("unknown feature %q", name)
			}
			features = append(features, f)
		}
		p.features = features
	}
	return p, nil
}

// Parse extracts every configured feature from the ordinance text. Rows
// come back in feature order regardless of which task finished first. A
// feature the trees cannot settle yields an empty row, not an error;
// Parse fails only on cancellation or a broken graph definition.
func (p *StructuredParser) Parse(ctx context.Context, text string) (*Table, error) {
	slots := make([][]Row, len(p.features))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range p.features {
		g.Go(func() error {
			rows, err := p.extractFeature(ctx, f, text)
			if err != nil {
				return err
			}
			slots[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := &Table{Location: p.target.FullName}
	for _, rows := range slots {
		table.Rows = append(table.Rows, rows...)
	}
	return table, nil
}

func (p *StructuredParser) extractFeature(ctx context.Context, f Feature, text string) ([]Row, error) {
	chat := llm.NewChatCaller(p.invoker, parserSystem(p.target, text),
		llm.WithUsage(p.usage), llm.WithUsageLabel(UsageLabelValues))

	graph, err := p.graphs.Base(f)
	if err != nil {
		return nil, fmt.Errorf("feature %q: base graph: %w", f.Name, err)
	}
	reply, ok, err := p.runTree(ctx, f, chat, graph)
	if err != nil {
		return nil, err
	}
	if !ok || !tree.StartsWithYes(reply) {
		return []Row{{Feature: f.Name}}, nil
	}

	if f.Variants {
		graph, err := p.graphs.Classifier(f)
		if err != nil {
			return nil, fmt.Errorf("feature %q: classifier graph: %w", f.Name, err)
		}
		reply, ok, err := p.runTree(ctx, f, chat, graph)
		if err != nil {
			return nil, err
		}
		if ok && tree.StartsWithYes(reply) {
			rows := make([]Row, 0, 2)
			for _, variant := range []string{VariantParticipating, VariantNonParticipating} {
				row, err := p.extractValues(ctx, f, variant, chat.Copy())
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
			return rows, nil
		}
	}

	row, err := p.extractValues(ctx, f, "", chat)
	if err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func (p *StructuredParser) extractValues(ctx context.Context, f Feature, variant string, chat *llm.ChatCaller) (Row, error) {
	row := Row{Feature: f.Name, Variant: variant}

	graph, err := p.graphs.Values(f, variant)
	if err != nil {
		return row, fmt.Errorf("feature %q: values graph: %w", f.Name, err)
	}
	reply, ok, err := p.runTree(ctx, f, chat, graph)
	if err != nil || !ok {
		return row, err
	}

	values := llm.ParseJSONReply(ctx, reply)
	row.FixedValue = llm.AsNumber(values["fixed_value"])
	row.Units = llm.AsString(values["units"])
	row.Multiplier = llm.AsNumber(values["multiplier"])
	row.MultType = llm.AsString(values["mult_type"])
	row.Adder = llm.AsNumber(values["adder"])

	if row.Multiplier != nil {
		graph, err := p.graphs.Conditional(f, variant)
		if err != nil {
			return row, fmt.Errorf("feature %q: conditional graph: %w", f.Name, err)
		}
		reply, ok, err := p.runTree(ctx, f, chat, graph)
		if err != nil {
			return row, err
		}
		if ok {
			bounds := llm.ParseJSONReply(ctx, reply)
			row.MinValue = llm.AsNumber(bounds["min_value"])
			row.MaxValue = llm.AsNumber(bounds["max_value"])
		}
	}

	p.applyAdderRule(&row)
	return row, nil
}

// runTree walks one graph on the shared chat. A traversal failure is
// logged with the full conversation and reported as not-answered, so one
// stubborn feature does not sink the whole table; only cancellation and
// graph-definition errors propagate.
func (p *StructuredParser) runTree(ctx context.Context, f Feature, chat *llm.ChatCaller, graph *tree.Graph) (string, bool, error) {
	reply, err := tree.New(graph, chat, tree.WithLogger(p.logger)).Run(ctx)
	if err == nil {
		return reply, true, nil
	}
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	p.logger.ErrorContext(ctx, "Feature extraction tree failed",
		"feature", f.Name,
		"error", err,
		"transcript", renderTranscript(chat.Transcript()))
	return "", false, nil
}

// applyAdderRule reclassifies an implausible adder: an ordinance
// answering "1.1 times tip height plus 1500 ft" almost always means a
// fixed 1500 ft setback misread as multiplier arithmetic.
func (p *StructuredParser) applyAdderRule(row *Row) {
	if row.Adder == nil || *row.Adder <= p.maxAdder {
		return
	}
	v := *row.Adder
	row.FixedValue = &v
	row.Units = "ft"
	row.Multiplier = nil
	row.MultType = ""
	row.Adder = nil
	row.MinValue = nil
	row.MaxValue = nil
}

func renderTranscript(messages []llm.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}
