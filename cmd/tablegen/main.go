package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-auction-tables/config"
	"github.com/aluiziolira/go-auction-tables/loader"
	"github.com/aluiziolira/go-auction-tables/models"
	"github.com/aluiziolira/go-auction-tables/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one table generation and returns the process exit status.
// Output files are only created once every source loaded and extracted.
func run(args []string, stdout, stderr io.Writer) int {
	defaultCfg := config.DefaultConfig()
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("TABLEGEN_PARALLEL"); err != nil {
		fmt.Fprintf(stderr, "invalid TABLEGEN_PARALLEL: %v\n", err)
		return 1
	} else if ok {
		parallelDefault = value
	}
	outDirDefault := defaultCfg.OutputDir
	if value, ok := config.EnvString("TABLEGEN_OUT_DIR"); ok {
		outDirDefault = value
	}
	formatDefault := defaultCfg.OutputFormat
	if value, ok := config.EnvString("TABLEGEN_FORMAT"); ok {
		formatDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("TABLEGEN_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	fs := flag.NewFlagSet("tablegen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("out-dir", outDirDefault, "Directory the tables are written to")
	outputFormat := fs.String("format", formatDefault, "Output format: dat, json, or dual")
	parallelism := fs.Int("parallel", parallelDefault, "Number of concurrent fetches and extraction workers")
	maxRetries := fs.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per remote source")
	retryBackoffMs := fs.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := fs.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	timeout := fs.Duration("timeout", defaultCfg.Timeout, "Per-source fetch timeout")
	verbose := fs.Bool("v", false, "Enable verbose logging")
	metricsAddr := fs.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	fs.Usage = func() { usage(fs) }

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		usage(fs)
		return 1
	}

	logger, level := newLogger(*verbose, stderr)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.OutputDir = *outDir
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.Parallelism = *parallelism
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.Timeout = *timeout
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		return fail("invalid configuration", err)
	}

	sources := loader.FilterSources(fs.Args())
	if skipped := fs.NArg() - len(sources); skipped > 0 {
		slog.Debug("ignoring non-json arguments", slog.Int("count", skipped))
	}

	slog.Info("starting table generation",
		slog.Int("sources", len(sources)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("format", cfg.OutputFormat),
	)

	l, err := loader.NewLoader(cfg)
	if err != nil {
		return fail("initialising loader", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(l.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer shutdownMetrics(metricsServer)
	}

	store := pipeline.NewStore()
	p := pipeline.NewPipeline(ctx, store, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, err := l.Run(ctx, sources, p)
	if err != nil {
		_ = p.Close()
		return fail("loading sources failed", err)
	}
	if err := p.Close(); err != nil {
		return fail("extraction failed", err)
	}

	metrics := p.GetMetrics()
	if processed, ok := metrics["processed_items"].(int64); ok {
		result.ItemCount = int(processed)
	}
	for _, table := range models.Tables {
		l.Metrics.SetEntities(string(table), store.Len(table))
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputDir)
	if err != nil {
		return fail("creating writer", err)
	}
	if err := writer.Write(store); err != nil {
		return fail("writing tables", err)
	}
	if err := writer.Close(); err != nil {
		return fail("close writer", err)
	}
	if err := writer.Validate(); err != nil {
		return fail("output validation failed", err)
	}

	printSummary(stdout, result, store, writer.Digests(), cfg.OutputDir)
	return 0
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: %s [flags] <file1> [file2 ...]\n", fs.Name())
	fs.PrintDefaults()
}

func fail(msg string, err error) int {
	slog.Error(msg, slog.Any("error", err))
	return 1
}

func shutdownMetrics(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func createWriter(format, dir string) (pipeline.OutputWriter, error) {
	switch format {
	case config.FormatDat:
		return pipeline.NewDatWriter(dir)
	case config.FormatJSON:
		return pipeline.NewJSONWriter(dir)
	case config.FormatDual:
		return pipeline.NewDualWriter(dir)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(w io.Writer, result *models.LoadResult, store *pipeline.Store, digests map[models.Table]uint64, outDir string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Tables written")

	fmt.Fprintf(w, "  Sources:       %d\n", len(result.Sources))
	fmt.Fprintf(w, "  Documents:     %d\n", result.DocumentCount)
	fmt.Fprintf(w, "  Items parsed:  %d\n", result.ItemCount)

	stats := store.Stats()
	for _, table := range models.Tables {
		s := stats[table]
		fmt.Fprintf(w, "  %-14s %d rows, %d duplicates, %d conflicts, xxh64 %016x\n",
			string(table)+":", store.Len(table), s.Duplicates, s.Conflicts, digests[table])
	}

	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		kinds := make([]string, 0, len(result.ErrorsByType))
		for kind, n := range result.ErrorsByType {
			kinds = append(kinds, fmt.Sprintf("%s=%d", kind, n))
		}
		sort.Strings(kinds)
		fmt.Fprintf(w, "  Error types:   %s\n", strings.Join(kinds, " "))
	}
	fmt.Fprintf(w, "  Load time:     %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Fprintf(w, "  Total time:    %v\n", time.Since(result.StartTime))
	fmt.Fprintf(w, "  Output dir:    %s\n", outDir)
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
