// Command ordex extracts wind ordinance setback values for U.S.
// counties. For every county on the roster it searches the public web
// for the zoning ordinance, downloads the candidate documents, and
// walks the best one through a chain of LLM passes down to a table of
// regulated values.
//
// Usage:
//
//	ordex run --config config.yaml
//	ordex validate config.yaml
//	ordex schema > schema.json
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/ordexlabs/ordex/pkg/config"
	"github.com/ordexlabs/ordex/pkg/logger"
	"github.com/ordexlabs/ordex/pkg/observability"
	"github.com/ordexlabs/ordex/pkg/pipeline"
	"github.com/ordexlabs/ordex/pkg/roster"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run the extraction over the configured county roster."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for configuration files."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ordex version %s\n", version)
	return nil
}

// RunCmd executes a full extraction run.
type RunCmd struct {
	Config  string `short:"c" required:"" help:"Path to the configuration file." type:"path"`
	Verbose bool   `short:"v" help:"Debug logging, overriding the configured level."`
}

func (c *RunCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Verbose {
		cfg.LogLevel = "debug"
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	listener, cleanup, err := logger.Setup(level, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		metrics := observability.NewMetrics()
		observability.SetGlobalRecorder(metrics)
		metricsSrv := observability.NewServer(cfg.MetricsAddr, metrics.Handler(), slog.Default())
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics listener: %w", err)
		}
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	locations, err := roster.Load(cfg.CountyTable)
	if err != nil {
		return fmt.Errorf("failed to load county roster: %w", err)
	}

	runID := uuid.NewString()
	slog.Info("Starting extraction run",
		"run_id", runID,
		"locations", len(locations),
		"out_dir", cfg.OutDir)

	orch := pipeline.NewOrchestrator(cfg, pipeline.WithListener(listener))
	result, err := orch.Run(ctx, locations)
	if err != nil {
		return err
	}

	outPath := filepath.Join(cfg.OutDir, "values.csv")
	if err := writeValues(outPath, result); err != nil {
		return fmt.Errorf("failed to write combined values: %w", err)
	}

	fmt.Printf("\nRun %s finished in %s: ordinances found for %d of %d locations.\n",
		runID, result.Elapsed.Round(time.Second), result.Found, result.Total)
	fmt.Printf("  Values:  %s\n", outPath)
	fmt.Printf("  Usage:   %s\n", cfg.UsageFile())
	fmt.Printf("  Logs:    %s\n", cfg.LogDir)
	return nil
}

// writeValues emits the combined value table for the whole run.
func writeValues(path string, result *pipeline.RunResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(result.Header); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.WriteAll(result.Rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ordex"),
		kong.Description("Ordinance value extraction for wind energy siting."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
