package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultQueueSize    = 64
	defaultPollInterval = 100 * time.Millisecond
)

type jobResult struct {
	value any
	err   error
}

// job is one queued call: the request plus the channel its outcome is
// delivered on. The caller's context rides along so the dispatcher can
// skip work nobody is waiting for anymore.
type job struct {
	ctx     context.Context
	request any
	done    chan jobResult
}

type registration struct {
	service Service
	queue   chan *job
	pending sync.WaitGroup
}

// Provider owns a set of services for the duration of a run. Each
// registered service gets a bounded FIFO queue and a dispatcher; callers
// submit requests with Call and block on the result. Shutdown drains
// every queue and releases service resources, including when the run is
// being torn down after an error.
type Provider struct {
	queueSize    int
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	services map[string]*registration
	order    []string
	started  bool
	closed   bool

	dispatchers sync.WaitGroup
}

type ProviderOption func(*Provider)

// WithQueueSize bounds each service queue.
func WithQueueSize(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithPollInterval sets how often a dispatcher rechecks CanProcess while
// a service is refusing admission.
func WithPollInterval(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		queueSize:    defaultQueueSize,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
		services:     make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a service. All registration happens before Start.
func (p *Provider) Register(service Service) error {
	name := service.Name()
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("cannot register %q: provider already started", name)
	}
	if _, exists := p.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	p.services[name] = &registration{
		service: service,
		queue:   make(chan *job, p.queueSize),
	}
	p.order = append(p.order, name)
	return nil
}

// Start acquires resources in registration order and spawns one
// dispatcher per service. If any acquisition fails, resources already
// acquired are released in reverse order.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("provider already started")
	}
	p.started = true
	order := append([]string{}, p.order...)
	p.mu.Unlock()

	acquired := make([]string, 0, len(order))
	for _, name := range order {
		reg := p.services[name]
		if holder, ok := reg.service.(ResourceHolder); ok {
			if err := holder.AcquireResources(ctx); err != nil {
				p.releaseAll(ctx, acquired)
				return fmt.Errorf("failed to acquire resources for %q: %w", name, err)
			}
		}
		acquired = append(acquired, name)
	}

	for _, name := range order {
		reg := p.services[name]
		p.dispatchers.Add(1)
		go p.runDispatcher(reg)
	}
	return nil
}

// Call submits a request to the named service and waits for its result.
// The context covers both the time in queue and the processing itself.
func (p *Provider) Call(ctx context.Context, service string, request any) (any, error) {
	p.mu.Lock()
	reg, ok := p.services[service]
	closed := p.closed
	started := p.started
	if ok && started && !closed {
		// Reserve the drain slot while still holding the lock so Shutdown
		// cannot close the queue between the check and the send.
		reg.pending.Add(1)
	}
	p.mu.Unlock()

	if !ok || !started {
		return nil, &ServiceNotFoundError{Service: service}
	}
	if closed {
		return nil, ErrProviderClosed
	}

	j := &job{
		ctx:     ctx,
		request: request,
		done:    make(chan jobResult, 1),
	}

	select {
	case reg.queue <- j:
	case <-ctx.Done():
		reg.pending.Done()
		return nil, ctx.Err()
	}

	select {
	case res := <-j.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops intake, waits until every queued job has resolved, stops
// the dispatchers, and releases resources in reverse registration order.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	order := append([]string{}, p.order...)
	p.mu.Unlock()

	for _, name := range order {
		reg := p.services[name]
		reg.pending.Wait()
		close(reg.queue)
	}
	p.dispatchers.Wait()

	return p.releaseAll(ctx, order)
}

func (p *Provider) releaseAll(ctx context.Context, names []string) error {
	var firstErr error
	for i := len(names) - 1; i >= 0; i-- {
		reg := p.services[names[i]]
		holder, ok := reg.service.(ResourceHolder)
		if !ok {
			continue
		}
		if err := holder.ReleaseResources(ctx); err != nil {
			p.logger.Warn("Failed to release service resources",
				"service", names[i],
				"error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to release resources for %q: %w", names[i], err)
			}
		}
	}
	return firstErr
}

func (p *Provider) runDispatcher(reg *registration) {
	defer p.dispatchers.Done()

	workers := 1
	if cs, ok := reg.service.(ConcurrentService); ok && cs.Workers() > 1 {
		workers = cs.Workers()
	}

	var consumers sync.WaitGroup
	for i := 0; i < workers; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for j := range reg.queue {
				p.runJob(reg, j)
			}
		}()
	}
	consumers.Wait()
}

func (p *Provider) runJob(reg *registration, j *job) {
	defer reg.pending.Done()

	if err := j.ctx.Err(); err != nil {
		j.done <- jobResult{err: err}
		return
	}

	// Admission gate: hold the job until the service will take it. The
	// caller's context still wins while waiting.
	for !reg.service.CanProcess() {
		select {
		case <-j.ctx.Done():
			j.done <- jobResult{err: j.ctx.Err()}
			return
		case <-time.After(p.pollInterval):
		}
	}

	value, err := p.safeProcess(reg.service, j)
	j.done <- jobResult{value: value, err: err}
}

// safeProcess converts a panicking service into an error on the caller's
// future so one poisoned request cannot take down the dispatcher.
func (p *Provider) safeProcess(service Service, j *job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Service panicked",
				"service", service.Name(),
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("service %q panicked: %v", service.Name(), r)
		}
	}()
	return service.Process(j.ctx, j.request)
}
