package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

type locationKey struct{}

// WithLocation tags the context with a location's full name. Every record
// emitted under this context is routed to that location's log file.
// Child goroutines inherit the tag by receiving the context.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationKey{}, location)
}

// LocationFromContext returns the location tag, or "" when the context is
// not inside a location scope.
func LocationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if location, ok := ctx.Value(locationKey{}).(string); ok {
		return location
	}
	return ""
}

// LocationScope owns one location's log file for the duration of its
// pipeline run: it opens {logdir}/{location}.log, registers the handler
// with the listener, and tears both down on Close.
type LocationScope struct {
	listener *Listener
	location string
	file     *os.File
}

// NewLocationScope opens the location's log file and starts routing its
// records there.
func NewLocationScope(listener *Listener, logDir, location string, level slog.Level) (*LocationScope, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, _, err := OpenLogFile(logFileName(logDir, location))
	if err != nil {
		return nil, fmt.Errorf("failed to open location log: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	listener.Register(location, handler)

	return &LocationScope{
		listener: listener,
		location: location,
		file:     file,
	}, nil
}

// Path returns the scope's log file path.
func (s *LocationScope) Path() string {
	return s.file.Name()
}

// Close deregisters the location and closes its file. Records still in
// the queue for this location fall back to the main log once the scope is
// gone.
func (s *LocationScope) Close() error {
	s.listener.Deregister(s.location)
	return s.file.Close()
}

// Setup installs the full logging pipeline: a queue handler as the slog
// default, a listener goroutine writing to the console and main.log, and
// per-location demultiplexing via LocationScope. The returned cleanup
// stops the listener after flushing the queue and closes main.log.
func Setup(level slog.Level, logDir string) (*Listener, func(), error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	mainFile, closeMain, err := OpenLogFile(filepath.Join(logDir, "main.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open main log: %w", err)
	}

	console := newConsoleHandler(os.Stderr, level)
	mainHandler := slog.NewTextHandler(mainFile, &slog.HandlerOptions{Level: level})

	listener := NewListener(console, mainHandler, 0)
	listener.Start()

	handler := &filteringHandler{
		handler:  NewQueueHandler(listener, level),
		minLevel: level,
	}

	defaultMu.Lock()
	defaultLogger = slog.New(handler)
	defaultMu.Unlock()
	slog.SetDefault(slog.New(handler))

	cleanup := func() {
		listener.Stop()
		closeMain()
	}

	return listener, cleanup, nil
}
