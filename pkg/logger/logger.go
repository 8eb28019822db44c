// Package logger wires the process-wide slog pipeline. Records flow
// through a queue to a listener goroutine that demultiplexes them: records
// tagged with a location go to that location's log file, everything else
// goes to the shared main log. The console sees all records.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultLogger *slog.Logger
)

const modulePackagePrefix = "github.com/ordexlabs/ordex"

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error; anything else maps to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler suppresses third-party library logs unless the level
// is DEBUG, keyed on the emitting package.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if h.isModulePackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func (h *filteringHandler) isModulePackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePackagePrefix) ||
		strings.Contains(file, "ordex/")
}

func getLevelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // Red
	case level >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // Cyan
	default:
		return "\033[90m" // Gray
	}
}

func isTerminal(file *os.File) bool {
	if fileInfo, err := file.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// consoleHandler renders records as "LEVEL message key=value" lines,
// colorizing the level when writing to a terminal.
type consoleHandler struct {
	mu       *sync.Mutex
	writer   io.Writer
	minLevel slog.Level
	useColor bool
	attrs    []slog.Attr
	group    string
}

func newConsoleHandler(output *os.File, level slog.Level) *consoleHandler {
	return &consoleHandler{
		mu:       &sync.Mutex{},
		writer:   output,
		minLevel: level,
		useColor: isTerminal(output),
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	levelStr := strings.ToUpper(record.Level.String())
	if levelStr == "WARNING" {
		levelStr = "WARN"
	}
	if h.useColor {
		buf.WriteString(getLevelColor(record.Level))
		buf.WriteString(levelStr)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelStr)
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteString(" ")
		if h.group != "" {
			buf.WriteString(h.group)
			buf.WriteString(".")
		}
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// Init installs a console-only default logger. The run command replaces
// it with the queued per-location pipeline via Setup; lighter commands
// (validate, schema) stay on this.
func Init(level slog.Level, output *os.File) {
	handler := &filteringHandler{
		handler:  newConsoleHandler(output, level),
		minLevel: level,
	}

	defaultMu.Lock()
	defaultLogger = slog.New(handler)
	defaultMu.Unlock()

	slog.SetDefault(slog.New(handler))
}

// OpenLogFile opens or creates a log file at the specified path.
// Returns the file handle and a cleanup function, or an error.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		_ = file.Close()
	}

	return file, cleanup, nil
}

// GetLogger returns the default slog logger, initializing a console
// logger at INFO if nothing has been set up yet.
func GetLogger() *slog.Logger {
	defaultMu.Lock()
	logger := defaultLogger
	defaultMu.Unlock()

	if logger == nil {
		Init(slog.LevelInfo, os.Stderr)
		return GetLogger()
	}
	return logger
}

// logFileName builds the log path for a location, keeping the full name
// readable while stripping path separators.
func logFileName(logDir, location string) string {
	safe := strings.ReplaceAll(location, string(os.PathSeparator), "-")
	return filepath.Join(logDir, safe+".log")
}
