package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// echoService records the order requests were processed in.
type echoService struct {
	name string
	mu   sync.Mutex
	seen []any
	gate chan struct{}
}

func newEchoService(name string) *echoService {
	return &echoService{name: name}
}

func (s *echoService) Name() string     { return s.name }
func (s *echoService) CanProcess() bool { return true }

func (s *echoService) Process(_ context.Context, req any) (any, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()
	return req, nil
}

// lifecycleService counts its resource hooks.
type lifecycleService struct {
	echoService
	acquired   int
	released   int
	acquireErr error
}

func (s *lifecycleService) AcquireResources(_ context.Context) error {
	s.acquired++
	return s.acquireErr
}

func (s *lifecycleService) ReleaseResources(_ context.Context) error {
	s.released++
	return nil
}

func startedProvider(t *testing.T, svcs ...Service) *Provider {
	t.Helper()
	p := NewProvider(WithPollInterval(5 * time.Millisecond))
	for _, svc := range svcs {
		if err := p.Register(svc); err != nil {
			t.Fatalf("Register(%s): %v", svc.Name(), err)
		}
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func TestProvider_CallRoundTrip(t *testing.T) {
	p := startedProvider(t, newEchoService("echo"))
	defer func() { _ = p.Shutdown(context.Background()) }()

	result, err := p.Call(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "hello" {
		t.Errorf("result = %v", result)
	}
}

func TestProvider_RegisterDuplicate(t *testing.T) {
	p := NewProvider()
	if err := p.Register(newEchoService("echo")); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(newEchoService("echo")); err == nil {
		t.Error("duplicate Register should fail")
	}
}

func TestProvider_UnknownService(t *testing.T) {
	p := startedProvider(t, newEchoService("echo"))
	defer func() { _ = p.Shutdown(context.Background()) }()

	_, err := p.Call(context.Background(), "nope", 1)
	if !IsServiceNotFound(err) {
		t.Fatalf("error = %v, want ServiceNotFoundError", err)
	}

	var notFound *ServiceNotFoundError
	if errors.As(err, &notFound) && notFound.Service != "nope" {
		t.Errorf("Service = %q", notFound.Service)
	}
}

func TestProvider_CallBeforeStart(t *testing.T) {
	p := NewProvider()
	if err := p.Register(newEchoService("echo")); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Call(context.Background(), "echo", 1); !IsServiceNotFound(err) {
		t.Fatalf("error = %v, want ServiceNotFoundError", err)
	}
}

func TestProvider_CallAfterShutdown(t *testing.T) {
	p := startedProvider(t, newEchoService("echo"))
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Call(context.Background(), "echo", 1); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("error = %v, want ErrProviderClosed", err)
	}
}

// Four queued requests on a single-worker service must start and resolve
// in submission order.
func TestProvider_FIFOPerService(t *testing.T) {
	svc := newEchoService("echo")
	svc.gate = make(chan struct{})
	p := startedProvider(t, svc)
	defer func() { _ = p.Shutdown(context.Background()) }()

	const n = 4
	resolved := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.Call(context.Background(), "echo", i); err != nil {
				t.Errorf("Call(%d): %v", i, err)
				return
			}
			resolved <- i
		}(i)
		// Stagger submissions so enqueue order matches i.
		time.Sleep(20 * time.Millisecond)
	}

	close(svc.gate)
	wg.Wait()
	close(resolved)

	want := 0
	for got := range resolved {
		if got != want {
			t.Fatalf("resolution order: got %d, want %d", got, want)
		}
		want++
	}

	for i, req := range svc.seen {
		if req != i {
			t.Fatalf("processing order: seen[%d] = %v", i, req)
		}
	}
}

func TestProvider_ResourceLifecycle(t *testing.T) {
	svc := &lifecycleService{echoService: echoService{name: "res"}}
	p := startedProvider(t, svc)

	if svc.acquired != 1 {
		t.Fatalf("acquired = %d, want 1", svc.acquired)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.released != 1 {
		t.Fatalf("released = %d, want 1", svc.released)
	}

	// Second shutdown is a no-op.
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if svc.released != 1 {
		t.Fatalf("released after second shutdown = %d, want 1", svc.released)
	}
}

func TestProvider_AcquireFailureReleasesEarlierServices(t *testing.T) {
	first := &lifecycleService{echoService: echoService{name: "first"}}
	second := &lifecycleService{
		echoService: echoService{name: "second"},
		acquireErr:  errors.New("no browser available"),
	}

	p := NewProvider()
	if err := p.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(second); err != nil {
		t.Fatal(err)
	}

	err := p.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "second") {
		t.Fatalf("Start error = %v", err)
	}
	if first.released != 1 {
		t.Errorf("first.released = %d, want 1", first.released)
	}
	if second.released != 0 {
		t.Errorf("second.released = %d, want 0", second.released)
	}
}

// errorService fails every request.
type errorService struct{ name string }

func (s *errorService) Name() string     { return s.name }
func (s *errorService) CanProcess() bool { return true }
func (s *errorService) Process(_ context.Context, req any) (any, error) {
	return nil, fmt.Errorf("cannot handle %v", req)
}

func TestProvider_ProcessErrorPropagates(t *testing.T) {
	p := startedProvider(t, &errorService{name: "bad"}, newEchoService("echo"))
	defer func() { _ = p.Shutdown(context.Background()) }()

	if _, err := p.Call(context.Background(), "bad", 7); err == nil || !strings.Contains(err.Error(), "cannot handle 7") {
		t.Fatalf("error = %v", err)
	}

	// The dispatcher keeps serving after a failure.
	if _, err := p.Call(context.Background(), "bad", 8); err == nil {
		t.Fatal("second call should also return the service error")
	}
}

// panicService panics on request.
type panicService struct{}

func (s *panicService) Name() string     { return "panicky" }
func (s *panicService) CanProcess() bool { return true }
func (s *panicService) Process(_ context.Context, _ any) (any, error) {
	panic("corrupt document")
}

func TestProvider_PanicBecomesError(t *testing.T) {
	p := startedProvider(t, &panicService{})
	defer func() { _ = p.Shutdown(context.Background()) }()

	_, err := p.Call(context.Background(), "panicky", 1)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("error = %v, want panic wrapped as error", err)
	}

	// Dispatcher survived.
	if _, err := p.Call(context.Background(), "panicky", 2); err == nil {
		t.Fatal("expected error from second call")
	}
}

func TestProvider_CancelledCallerWhileQueued(t *testing.T) {
	svc := newEchoService("slow")
	svc.gate = make(chan struct{})
	p := startedProvider(t, svc)

	// Occupy the single worker.
	go func() { _, _ = p.Call(context.Background(), "slow", "blocker") }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Call(ctx, "slow", "cancelled")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	close(svc.gate)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestProvider_ShutdownDrainsQueuedJobs(t *testing.T) {
	svc := newEchoService("drain")
	svc.gate = make(chan struct{})
	p := startedProvider(t, svc)

	const n = 3
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := p.Call(context.Background(), "drain", i)
			results <- err
		}(i)
	}
	time.Sleep(30 * time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		_ = p.Shutdown(context.Background())
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before queued jobs resolved")
	case <-time.After(30 * time.Millisecond):
	}

	close(svc.gate)
	<-shutdownDone

	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Errorf("queued call error = %v", err)
		}
	}
}
