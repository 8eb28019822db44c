package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/extract"
	"github.com/ordexlabs/ordex/pkg/httpclient"
	"github.com/ordexlabs/ordex/pkg/llm"
	"github.com/ordexlabs/ordex/pkg/loader"
	"github.com/ordexlabs/ordex/pkg/logger"
	"github.com/ordexlabs/ordex/pkg/observability"
	"github.com/ordexlabs/ordex/pkg/roster"
	"github.com/ordexlabs/ordex/pkg/search"
	"github.com/ordexlabs/ordex/pkg/services"
	"github.com/ordexlabs/ordex/pkg/usage"
)

// Orchestrator owns one extraction run: it assembles the shared service
// provider and collaborators, fans out one pipeline task per location,
// and gathers the per-location tables into a single result.
type Orchestrator struct {
	cfg      *config.Config
	listener *logger.Listener
	logger   *slog.Logger

	// Injectable collaborators. When nil, Run builds the real ones
	// from the config.
	engine    search.Engine
	client    llm.Client
	counter   TokenCounter
	docLoader loader.FileLoader
}

type OrchestratorOption func(*Orchestrator)

// WithListener routes per-location log records to their own files. The
// listener must outlive the run.
func WithListener(l *logger.Listener) OrchestratorOption {
	return func(o *Orchestrator) {
		o.listener = l
	}
}

// WithEngine substitutes the search engine, replacing the default
// headless-browser DuckDuckGo frontend.
func WithEngine(e search.Engine) OrchestratorOption {
	return func(o *Orchestrator) {
		o.engine = e
	}
}

// WithClient substitutes the LLM client built from the config.
func WithClient(c llm.Client) OrchestratorOption {
	return func(o *Orchestrator) {
		o.client = c
	}
}

// WithTokenCounter substitutes the tokenizer-backed counter, which
// fetches encoding data on first use.
func WithTokenCounter(c TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.counter = c
	}
}

// WithLoader substitutes the document loader built from the config.
func WithLoader(l loader.FileLoader) OrchestratorOption {
	return func(o *Orchestrator) {
		o.docLoader = l
	}
}

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func NewOrchestrator(cfg *config.Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunResult is the aggregate outcome of a run. Rows concatenates the
// per-location tables in roster order; locations without an ordinance
// contribute no rows.
type RunResult struct {
	Header  []string
	Rows    [][]string
	Found   int
	Total   int
	Elapsed time.Duration
}

// Run processes every location and returns the combined value table.
// Per-location failures are logged and yield no rows; Run itself fails
// only when the shared collaborators cannot be assembled.
func (o *Orchestrator) Run(ctx context.Context, locations []roster.Location) (*RunResult, error) {
	start := time.Now()

	client := o.client
	if client == nil {
		var err error
		client, err = llm.NewClient(&o.cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to build LLM client: %w", err)
		}
	}

	counter := o.counter
	if counter == nil {
		tc, err := llm.NewTokenCounter(o.cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to build token counter: %w", err)
		}
		counter = tc
	}

	engine := o.engine
	if engine == nil {
		engine = search.NewDuckDuckGo(
			search.WithNavigationTimeout(time.Duration(o.cfg.Search.TimeoutSeconds)*time.Second),
			search.WithSearchLogger(o.logger))
	}

	store := usage.NewStore(o.cfg.UsageFile())

	provider := services.NewProvider(services.WithProviderLogger(o.logger))
	provider.Register(services.NewLLMService(client, counter, &o.cfg.LLM,
		services.WithLLMLogger(o.logger)))
	provider.Register(services.NewFileCacheService(o.cfg.TempDir))
	provider.Register(services.NewFileMoverService())
	provider.Register(services.NewCleanedTextWriterService())
	provider.Register(services.NewValueDBWriterService())
	provider.Register(services.NewUsageRecorderService(store))
	provider.Register(services.NewWorkerPoolService(services.CPUPoolServiceName, o.cfg.Pools.CPUWorkers))
	provider.Register(services.NewWorkerPoolService(services.IOPoolServiceName, o.cfg.Pools.IOWorkers))

	if err := provider.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start service provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			o.logger.Warn("Service provider shutdown reported errors", "error", err)
		}
	}()

	docLoader := o.docLoader
	if docLoader == nil {
		transport, err := httpclient.ConfigureTLS(&httpclient.TLSConfig{
			InsecureSkipVerify: o.cfg.Fetch.InsecureSkipVerify,
			CACertificate:      o.cfg.Fetch.CACertificate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure fetch transport: %w", err)
		}
		fetcher := httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Transport: transport}),
			httpclient.WithAttemptTimeout(time.Duration(o.cfg.Fetch.TimeoutSeconds)*time.Second),
			httpclient.WithLogger(o.logger))
		docLoader = loader.NewHTTPLoader(fetcher, provider,
			loader.WithSplitter(loader.NewCharacterSplitter(o.cfg.Splitter.ChunkSize, o.cfg.Splitter.ChunkOverlap)),
			loader.WithUserAgent(o.cfg.Fetch.UserAgent),
			loader.WithOCRBinary(o.cfg.OCRBinary),
			loader.WithLoaderLogger(o.logger))
	}

	pipe := New(o.cfg, Deps{
		Provider: provider,
		Engine:   engine,
		Loader:   docLoader,
		Invoker:  services.NewLLMInvoker(provider),
		Counter:  counter,
		Browsers: semaphore.NewWeighted(int64(o.cfg.Search.MaxBrowsers)),
	}, WithPipelineLogger(o.logger))

	o.logger.InfoContext(ctx, "Starting extraction run", "locations", len(locations))

	slots := make([]*document.Document, len(locations))
	var wg sync.WaitGroup
	for i, loc := range locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slots[i] = o.runLocation(ctx, pipe, loc)
		}()
	}
	wg.Wait()

	result := &RunResult{
		Header:  (&extract.Table{}).Header(),
		Total:   len(locations),
		Elapsed: time.Since(start),
	}
	for _, doc := range slots {
		if doc == nil {
			continue
		}
		result.Found++
		if table, ok := doc.Meta.Values.(*extract.Table); ok {
			result.Rows = append(result.Rows, table.Records()...)
		}
	}

	o.logger.InfoContext(ctx, "Extraction run finished",
		"found", result.Found,
		"total", result.Total,
		"rows", len(result.Rows),
		"elapsed", result.Elapsed.Round(time.Second).String())
	return result, nil
}

// runLocation executes one location under its log scope. It never
// propagates failure: errors and panics are logged and collapse to a
// nil document, so one bad county cannot sink the run.
func (o *Orchestrator) runLocation(ctx context.Context, pipe *Pipeline, loc roster.Location) (doc *document.Document) {
	full := loc.FullName()
	ctx = logger.WithLocation(ctx, full)

	recorder := observability.GetGlobalRecorder()
	recorder.IncLocationsInFlight()
	start := time.Now()
	outcome := observability.OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "Location processing panicked",
				"location", full, "panic", r, "stack", string(debug.Stack()))
			doc = nil
			outcome = observability.OutcomeFailed
		}
		recorder.DecLocationsInFlight()
		recorder.RecordLocation(outcome, time.Since(start))
	}()

	if o.listener != nil {
		scope, err := logger.NewLocationScope(o.listener, o.cfg.LogDir, full, o.scopeLevel())
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to open location log, records go to main log",
				"location", full, "error", err)
		} else {
			defer scope.Close()
		}
	}

	var perr error
	doc, perr = pipe.ProcessLocation(ctx, loc)
	if perr != nil {
		o.logger.ErrorContext(ctx, "Location processing failed", "location", full, "error", perr)
		doc = nil
		return
	}
	if doc == nil {
		outcome = observability.OutcomeEmpty
		o.logger.InfoContext(ctx, "No ordinance found", "location", full)
		return
	}
	outcome = observability.OutcomeFound
	return
}

func (o *Orchestrator) scopeLevel() slog.Level {
	level, err := logger.ParseLevel(o.cfg.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}
