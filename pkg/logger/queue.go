package logger

import (
	"context"
	"log/slog"
	"sync"
)

// queuedRecord is one log record in flight, tagged with the location it
// was emitted under (empty when emitted outside any location scope).
type queuedRecord struct {
	location string
	record   slog.Record
}

// QueueHandler is a slog.Handler that captures the record's location tag
// from the context and hands it to the listener's queue. Emitting never
// blocks on file I/O; the listener goroutine does the writing.
type QueueHandler struct {
	listener *Listener
	minLevel slog.Level
	attrs    []slog.Attr
	group    string
}

func NewQueueHandler(listener *Listener, level slog.Level) *QueueHandler {
	return &QueueHandler{listener: listener, minLevel: level}
}

func (h *QueueHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *QueueHandler) Handle(ctx context.Context, record slog.Record) error {
	rec := record.Clone()
	if len(h.attrs) > 0 {
		if h.group != "" {
			args := make([]any, len(h.attrs))
			for i, a := range h.attrs {
				args[i] = a
			}
			rec.AddAttrs(slog.Group(h.group, args...))
		} else {
			rec.AddAttrs(h.attrs...)
		}
	}

	h.listener.enqueue(queuedRecord{
		location: LocationFromContext(ctx),
		record:   rec,
	})
	return nil
}

func (h *QueueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *QueueHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// Listener drains the log queue on its own goroutine and dispatches each
// record: the console sink sees everything, location-tagged records go to
// their registered location sink, and untagged records go to the main
// sink. Tagged records whose scope has already closed fall back to main.
type Listener struct {
	stateMu  sync.Mutex
	closed   bool
	inFlight sync.WaitGroup

	sinkMu  sync.Mutex
	sinks   map[string]slog.Handler
	console slog.Handler
	main    slog.Handler

	queue chan queuedRecord
	done  chan struct{}
}

// NewListener creates a listener with the given sinks. Either sink may be
// nil. queueSize bounds the number of records buffered between emitters
// and the writer goroutine.
func NewListener(console, main slog.Handler, queueSize int) *Listener {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Listener{
		sinks:   make(map[string]slog.Handler),
		console: console,
		main:    main,
		queue:   make(chan queuedRecord, queueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (l *Listener) Start() {
	go func() {
		defer close(l.done)
		for entry := range l.queue {
			l.dispatch(entry)
		}
	}()
}

// Stop waits for in-flight emits, closes the queue, and blocks until
// every buffered record has been written. Records emitted after Stop are
// dispatched synchronously on the caller's goroutine.
func (l *Listener) Stop() {
	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.stateMu.Unlock()

	l.inFlight.Wait()
	close(l.queue)
	<-l.done
}

// Register routes records tagged with location to the given handler.
func (l *Listener) Register(location string, handler slog.Handler) {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	l.sinks[location] = handler
}

// Deregister removes the location's handler.
func (l *Listener) Deregister(location string) {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	delete(l.sinks, location)
}

func (l *Listener) enqueue(entry queuedRecord) {
	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		l.dispatch(entry)
		return
	}
	l.inFlight.Add(1)
	l.stateMu.Unlock()
	defer l.inFlight.Done()

	l.queue <- entry
}

func (l *Listener) dispatch(entry queuedRecord) {
	ctx := context.Background()

	if l.console != nil {
		_ = l.console.Handle(ctx, entry.record.Clone())
	}

	if entry.location != "" {
		l.sinkMu.Lock()
		sink, ok := l.sinks[entry.location]
		l.sinkMu.Unlock()
		if ok {
			_ = sink.Handle(ctx, entry.record)
			return
		}
	}

	if l.main != nil {
		_ = l.main.Handle(ctx, entry.record)
	}
}
