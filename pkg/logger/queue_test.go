package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLocationContext(t *testing.T) {
	ctx := context.Background()
	if got := LocationFromContext(ctx); got != "" {
		t.Errorf("untagged context location = %q", got)
	}

	ctx = WithLocation(ctx, "Travis County, TX")
	if got := LocationFromContext(ctx); got != "Travis County, TX" {
		t.Errorf("location = %q", got)
	}

	// Child contexts inherit the tag.
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	if got := LocationFromContext(child); got != "Travis County, TX" {
		t.Errorf("child location = %q", got)
	}
}

func TestListener_Demultiplexes(t *testing.T) {
	var mainBuf, travisBuf, polkBuf bytes.Buffer

	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()

	listener.Register("Travis County, TX", slog.NewTextHandler(&travisBuf, nil))
	listener.Register("Polk County, IA", slog.NewTextHandler(&polkBuf, nil))

	log := slog.New(NewQueueHandler(listener, slog.LevelInfo))

	travisCtx := WithLocation(context.Background(), "Travis County, TX")
	polkCtx := WithLocation(context.Background(), "Polk County, IA")

	log.InfoContext(travisCtx, "travis record")
	log.InfoContext(polkCtx, "polk record")
	log.Info("orchestrator record")

	listener.Stop()

	if got := travisBuf.String(); !strings.Contains(got, "travis record") || strings.Contains(got, "polk record") {
		t.Errorf("travis log = %q", got)
	}
	if got := polkBuf.String(); !strings.Contains(got, "polk record") || strings.Contains(got, "travis record") {
		t.Errorf("polk log = %q", got)
	}
	main := mainBuf.String()
	if !strings.Contains(main, "orchestrator record") {
		t.Errorf("main log missing untagged record: %q", main)
	}
	if strings.Contains(main, "travis record") || strings.Contains(main, "polk record") {
		t.Errorf("main log contains scoped records: %q", main)
	}
}

func TestListener_UnregisteredLocationFallsBackToMain(t *testing.T) {
	var mainBuf bytes.Buffer

	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()

	log := slog.New(NewQueueHandler(listener, slog.LevelInfo))
	ctx := WithLocation(context.Background(), "Ghost County, ZZ")
	log.InfoContext(ctx, "stray record")

	listener.Stop()

	if !strings.Contains(mainBuf.String(), "stray record") {
		t.Errorf("main log = %q, want stray record", mainBuf.String())
	}
}

func TestListener_EmitAfterStop(t *testing.T) {
	var mainBuf bytes.Buffer

	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()
	listener.Stop()

	log := slog.New(NewQueueHandler(listener, slog.LevelInfo))
	log.Info("late record")

	if !strings.Contains(mainBuf.String(), "late record") {
		t.Errorf("main log = %q, want late record", mainBuf.String())
	}
}

func TestQueueHandler_LevelGate(t *testing.T) {
	var mainBuf bytes.Buffer

	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()

	log := slog.New(NewQueueHandler(listener, slog.LevelWarn))
	log.Info("too quiet")
	log.Warn("loud enough")

	listener.Stop()

	got := mainBuf.String()
	if strings.Contains(got, "too quiet") {
		t.Errorf("info record should be gated: %q", got)
	}
	if !strings.Contains(got, "loud enough") {
		t.Errorf("warn record missing: %q", got)
	}
}

func TestQueueHandler_WithAttrs(t *testing.T) {
	var mainBuf bytes.Buffer

	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()

	log := slog.New(NewQueueHandler(listener, slog.LevelInfo)).With("service", "llm")
	log.Info("bound attrs")

	listener.Stop()

	if got := mainBuf.String(); !strings.Contains(got, "service=llm") {
		t.Errorf("bound attr missing: %q", got)
	}
}

func TestLocationScope_WritesOwnFile(t *testing.T) {
	logDir := t.TempDir()

	var mainBuf bytes.Buffer
	listener := NewListener(nil, slog.NewTextHandler(&mainBuf, nil), 16)
	listener.Start()

	scope, err := NewLocationScope(listener, logDir, "Travis County, TX", slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewLocationScope() error = %v", err)
	}

	log := slog.New(NewQueueHandler(listener, slog.LevelInfo))
	ctx := WithLocation(context.Background(), "Travis County, TX")
	log.InfoContext(ctx, "scoped record")

	listener.Stop()
	if err := scope.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(logDir, "Travis County, TX.log"))
	if err != nil {
		t.Fatalf("read location log: %v", err)
	}
	if !strings.Contains(string(data), "scoped record") {
		t.Errorf("location log = %q", data)
	}
	if strings.Contains(mainBuf.String(), "scoped record") {
		t.Errorf("scoped record leaked to main: %q", mainBuf.String())
	}
}

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	handler := &consoleHandler{
		mu:       &sync.Mutex{},
		writer:   &buf,
		minLevel: slog.LevelInfo,
	}

	log := slog.New(handler)
	log.Info("fetched pages", "count", 12)

	got := buf.String()
	if !strings.HasPrefix(got, "INFO fetched pages") {
		t.Errorf("console line = %q", got)
	}
	if !strings.Contains(got, "count=12") {
		t.Errorf("console line missing attr: %q", got)
	}
}

func TestLogFileName(t *testing.T) {
	got := logFileName("/tmp/logs", "Travis County, TX")
	if got != "/tmp/logs/Travis County, TX.log" {
		t.Errorf("logFileName = %q", got)
	}

	got = logFileName("/tmp/logs", "Weird/Name")
	if strings.Contains(filepath.Base(got), "/") {
		t.Errorf("separator not stripped: %q", got)
	}
}
