// Package pipeline drives an extraction run end to end: per county it
// searches the public web for the zoning ordinance, loads and ranks the
// candidate documents, and walks the best one through the LLM stages
// down to a table of setback values.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ordexlabs/ordex/pkg/chunk"
	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/extract"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/loader"
	"github.com/ordexlabs/ordex/pkg/observability"
	"github.com/ordexlabs/ordex/pkg/roster"
	"github.com/ordexlabs/ordex/pkg/search"
	"github.com/ordexlabs/ordex/pkg/services"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// TokenCounter is the counting surface a run needs: message totals for
// the rate limiter, plain text counts for the chunker. llm.TokenCounter
// provides both.
type TokenCounter interface {
	services.TokenCounter
	chunk.TokenCounter
}

// Deps are the collaborators one Pipeline runs against. All of them are
// shared across locations.
type Deps struct {
	Provider *services.Provider
	Engine   search.Engine
	Loader   loader.FileLoader
	Invoker  llm.Invoker
	Counter  TokenCounter

	// Browsers bounds concurrent search engine sessions.
	Browsers *semaphore.Weighted
}

// Pipeline executes the per-location stages. Safe for concurrent use;
// the orchestrator runs one goroutine per location against a single
// Pipeline.
type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
}

type Option func(*Pipeline)

// WithPipelineLogger routes stage logs to the given logger.
func WithPipelineLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func New(cfg *config.Config, deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessLocation runs the full extraction for one location and returns
// the chosen document with its extracted attributes, or nil when no
// ordinance was found. LLM usage and wall time are merged into the
// shared usage report on every completed path; error returns persist
// nothing.
func (p *Pipeline) ProcessLocation(ctx context.Context, loc roster.Location) (*document.Document, error) {
	start := time.Now()
	record := usage.NewRecord()
	target := extract.Target{FullName: loc.FullName(), County: loc.Name, State: loc.State}

	p.logger.InfoContext(ctx, "Processing location", "location", target.FullName)

	urls, err := p.searchURLs(ctx, target.FullName)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	observability.GetGlobalRecorder().RecordSearch(len(urls))
	if len(urls) == 0 {
		p.logger.InfoContext(ctx, "Search produced no candidate URLs")
		p.recordUsage(ctx, target.FullName, record, start)
		return nil, nil
	}
	p.logger.InfoContext(ctx, "Collected candidate URLs", "count", len(urls))

	docs := p.fetchDocuments(ctx, urls)
	if len(docs) == 0 {
		p.logger.InfoContext(ctx, "No readable documents among candidates")
		p.recordUsage(ctx, target.FullName, record, start)
		return nil, nil
	}

	docs, err = p.filterByLocation(ctx, docs, target, record)
	if err != nil {
		return nil, fmt.Errorf("location filtering failed: %w", err)
	}
	sortCandidates(docs)

	docs, err = p.filterByContent(ctx, docs, record)
	if err != nil {
		return nil, fmt.Errorf("content filtering failed: %w", err)
	}

	best, err := p.pickBest(ctx, docs, record)
	if err != nil {
		return nil, fmt.Errorf("document selection failed: %w", err)
	}
	if best == nil {
		p.logger.InfoContext(ctx, "No document passed the ordinance filters")
		p.recordUsage(ctx, target.FullName, record, start)
		return nil, nil
	}
	best.Meta.Location = target.FullName
	best.Meta.LocationName = loc.Name
	p.logger.InfoContext(ctx, "Selected ordinance document",
		"source", best.Meta.Source,
		"format", string(best.Format),
		"date", fmt.Sprintf("%d-%02d-%02d", best.Meta.Date.Year, best.Meta.Date.Month, best.Meta.Date.Day))

	table, err := p.extractValues(ctx, best, target, record)
	if err != nil {
		return nil, fmt.Errorf("value extraction failed: %w", err)
	}

	p.persist(ctx, best, table, target)
	p.recordUsage(ctx, target.FullName, record, start)
	return best, nil
}

// searchURLs renders the query templates for the location and collects
// the unique candidate URLs, holding a browser slot for the duration of
// the engine session.
func (p *Pipeline) searchURLs(ctx context.Context, fullName string) ([]string, error) {
	queries := search.Queries(fullName)

	if err := p.deps.Browsers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.deps.Browsers.Release(1)

	lists, err := p.deps.Engine.Results(ctx, queries, p.cfg.Search.NumURLs)
	if err != nil {
		return nil, err
	}
	return search.CollectURLs(lists, p.cfg.Search.NumURLs), nil
}

// fetchDocuments loads every URL and drops documents with no readable
// text, counting the survivors by format.
func (p *Pipeline) fetchDocuments(ctx context.Context, urls []string) []*document.Document {
	var (
		docs    []*document.Document
		formats = make(map[document.Format]int)
	)
	for _, doc := range p.deps.Loader.FetchAll(ctx, urls) {
		if doc.Empty() {
			continue
		}
		formats[doc.Format]++
		docs = append(docs, doc)
	}
	for format, n := range formats {
		observability.GetGlobalRecorder().RecordDocuments(string(format), n)
	}
	return docs
}

// filterByLocation checks every document against the target jurisdiction
// in parallel, keeping input order among the survivors.
func (p *Pipeline) filterByLocation(ctx context.Context, docs []*document.Document, target extract.Target, record *usage.Record) ([]*document.Document, error) {
	caller := llm.NewStructuredCaller(p.deps.Invoker,
		llm.WithUsage(record), llm.WithUsageLabel(extract.UsageLabelLocation))
	validator := extract.NewLocationValidator(caller, target,
		extract.WithScoreThresh(p.cfg.Extraction.ScoreThresh),
		extract.WithLocationLogger(p.logger))

	keep := make([]bool, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	for i, doc := range docs {
		g.Go(func() error {
			ok, err := validator.Check(gctx, doc)
			if err != nil {
				return err
			}
			keep[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*document.Document
	for i, doc := range docs {
		if keep[i] {
			out = append(out, doc)
		}
	}
	p.logger.InfoContext(ctx, "Location filter done", "in", len(docs), "kept", len(out))
	return out, nil
}

// sortCandidates orders documents PDFs first, then by descending text
// length, so the cheapest-to-trust sources are examined first.
func sortCandidates(docs []*document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		iPDF := docs[i].Format == document.FormatPDF
		jPDF := docs[j].Format == document.FormatPDF
		if iPDF != jPDF {
			return iPDF
		}
		return len(docs[i].Text()) > len(docs[j].Text())
	})
}

// filterByContent scans each document's chunks for ordinance provisions.
// Documents are processed one at a time; within a document the scan is
// ordered so the validator's memo state sees earlier chunks.
func (p *Pipeline) filterByContent(ctx context.Context, docs []*document.Document, record *usage.Record) ([]*document.Document, error) {
	caller := llm.NewStructuredCaller(p.deps.Invoker,
		llm.WithUsage(record), llm.WithUsageLabel(extract.UsageLabelContent))
	chunker := p.newChunker()
	keywords := p.keywords()

	var kept []*document.Document
	for _, doc := range docs {
		set := chunker.Chunk(doc.Text())
		texts := make([]string, 0, set.Len())
		for _, c := range set.Chunks() {
			texts = append(texts, c.Text)
		}

		extractor := extract.NewOrdinanceExtractor(caller, texts,
			extract.WithKeywords(keywords),
			extract.WithMinChunks(p.cfg.Extraction.MinChunksToProcess),
			extract.WithRecallWindow(p.cfg.Extraction.NumToRecall),
			extract.WithOrdinanceLogger(p.logger))

		hits, err := extractor.Extract(ctx)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			continue
		}

		doc.Meta.ContainsOrdinance = true
		doc.Meta.OrdinanceText = extractor.Text(hits)
		kept = append(kept, doc)
	}
	p.logger.InfoContext(ctx, "Content filter done", "in", len(docs), "kept", len(kept))
	return kept, nil
}

// pickBest dates every passing document and returns the one with the
// latest declared date, preferring PDFs and then longer text on ties.
func (p *Pipeline) pickBest(ctx context.Context, docs []*document.Document, record *usage.Record) (*document.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	caller := llm.NewStructuredCaller(p.deps.Invoker,
		llm.WithUsage(record), llm.WithUsageLabel(extract.UsageLabelDate))
	dates := extract.NewDateExtractor(caller)

	for _, doc := range docs {
		date, err := dates.Extract(ctx, doc)
		if err != nil {
			return nil, err
		}
		doc.Meta.Date = date
	}

	best := docs[0]
	for _, doc := range docs[1:] {
		if betterCandidate(doc, best) {
			best = doc
		}
	}
	return best, nil
}

func betterCandidate(a, b *document.Document) bool {
	if a.Meta.Date != b.Meta.Date {
		return b.Meta.Date.Before(a.Meta.Date)
	}
	aPDF := a.Format == document.FormatPDF
	bPDF := b.Format == document.FormatPDF
	if aPDF != bPDF {
		return aPDF
	}
	return len(a.Text()) > len(b.Text())
}

// extractValues runs the cleaning pass and the structured parser over
// the chosen document, attaching both results to its Meta.
func (p *Pipeline) extractValues(ctx context.Context, best *document.Document, target extract.Target, record *usage.Record) (*extract.Table, error) {
	cleaner := extract.NewTextExtractor(p.deps.Invoker, p.newChunker(),
		extract.WithTextUsage(record))
	cleaned, err := cleaner.Clean(ctx, best.Meta.OrdinanceText)
	if err != nil {
		return nil, err
	}
	best.Meta.CleanedOrdinanceText = cleaned

	if strings.TrimSpace(cleaned) == "" {
		p.logger.WarnContext(ctx, "Cleaning pass left no ordinance text, skipping value extraction")
		table := &extract.Table{Location: target.FullName}
		best.Meta.Values = table
		return table, nil
	}

	parser, err := extract.NewStructuredParser(p.deps.Invoker, target,
		extract.WithFeatures(p.cfg.Extraction.Features...),
		extract.WithMaxAdderFeet(p.cfg.Extraction.MaxAdderFeet),
		extract.WithParserUsage(record),
		extract.WithParserLogger(p.logger))
	if err != nil {
		return nil, err
	}

	table, err := parser.Parse(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	best.Meta.Values = table
	return table, nil
}

// persist stores the run artifacts through the side-effect services: the
// original document, the cleaned text, and the value table. A failed
// write is logged and does not fail the location; the extracted table
// still reaches the aggregate output.
func (p *Pipeline) persist(ctx context.Context, doc *document.Document, table *extract.Table, target extract.Target) {
	if doc.Meta.CacheFile != "" {
		dest := artifactPath(p.cfg.DocDir, target.FullName, filepath.Ext(doc.Meta.CacheFile))
		if _, err := p.deps.Provider.Call(ctx, services.FileMoverServiceName, services.MoveFileRequest{
			Source: doc.Meta.CacheFile,
			Dest:   dest,
		}); err != nil {
			p.logger.WarnContext(ctx, "Failed to store original document", "error", err)
		} else {
			doc.Meta.OutFile = dest
		}
	}

	if doc.Meta.CleanedOrdinanceText != "" {
		path := artifactPath(p.cfg.CleanedTextDir, target.FullName, ".txt")
		if _, err := p.deps.Provider.Call(ctx, services.CleanedTextServiceName, services.WriteTextRequest{
			Path: path,
			Text: doc.Meta.CleanedOrdinanceText,
		}); err != nil {
			p.logger.WarnContext(ctx, "Failed to write cleaned text", "error", err)
		}
	}

	if table != nil {
		path := artifactPath(p.cfg.DBDir, target.FullName, ".csv")
		if _, err := p.deps.Provider.Call(ctx, services.ValueDBServiceName, services.WriteTableRequest{
			Path:   path,
			Header: table.Header(),
			Rows:   table.Records(),
		}); err != nil {
			p.logger.WarnContext(ctx, "Failed to write value table", "error", err)
		}
	}
}

// recordUsage stamps the location's wall time onto its record and merges
// it into the shared usage report.
func (p *Pipeline) recordUsage(ctx context.Context, fullName string, record *usage.Record, start time.Time) {
	record.AddElapsed(time.Since(start))
	if _, err := p.deps.Provider.Call(ctx, services.UsageRecorderServiceName, services.RecordUsageRequest{
		Location: fullName,
		Record:   record,
	}); err != nil {
		p.logger.WarnContext(ctx, "Failed to record usage", "error", err)
	}
}

func (p *Pipeline) newChunker() *chunk.Chunker {
	return chunk.New(p.deps.Counter, chunk.Config{
		TokenCap: p.cfg.Extraction.ChunkTokens,
		Overlap:  p.cfg.Extraction.ChunkOverlap,
	})
}

func (p *Pipeline) keywords() extract.Keywords {
	k := extract.Keywords{
		Allow: p.cfg.Extraction.AllowKeywords,
		Deny:  p.cfg.Extraction.DenyKeywords,
	}
	if len(k.Allow) == 0 && len(k.Deny) == 0 {
		return extract.DefaultKeywords()
	}
	return k
}

// artifactPath names a location's artifact, keeping the full name
// readable while stripping path separators.
func artifactPath(dir, location, ext string) string {
	safe := strings.ReplaceAll(location, string(os.PathSeparator), "-")
	return filepath.Join(dir, safe+ext)
}
