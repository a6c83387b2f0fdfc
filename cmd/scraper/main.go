package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/config"
	"github.com/aluiziolira/go-scrape-shirts/models"
	"github.com/aluiziolira/go-scrape-shirts/pipeline"
	"github.com/aluiziolira/go-scrape-shirts/scraper"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	code := 0
	rootCmd := newRootCmd(cfg, func(ctx context.Context, cfg *config.Config) error {
		var err error
		code, err = run(ctx, cfg)
		return err
	})
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return code
}

func newRootCmd(cfg *config.Config, runFn func(context.Context, *config.Config) error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scraper",
		Short: "Scrape the shirts4mike catalog into a daily CSV artifact",
		Long: `Scrape lists every shirt on the catalog page, fetches each detail page and
writes one row per shirt to data/<date>.csv. Failures go to scraper-error.log.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
			return runFn(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ListingURL, "listing-url", cfg.ListingURL, "Catalog listing page")
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Base URL item links are resolved against")
	flags.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Maximum concurrent detail fetches")
	flags.StringVar(&cfg.FailurePolicy, "policy", cfg.FailurePolicy, "Failure policy: partial or all-or-nothing")
	flags.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "Per-request timeout")
	flags.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Response cache entries (0 disables)")
	flags.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	flags.IntVar(&cfg.DayOffset, "day-offset", cfg.DayOffset, "Days added to the artifact date (no calendar rollover)")
	flags.StringVarP(&cfg.OutputDir, "output-dir", "o", cfg.OutputDir, "Artifact directory")
	flags.StringVarP(&cfg.OutputFormat, "format", "f", cfg.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&cfg.ErrorLogFile, "error-log", cfg.ErrorLogFile, "Append-only error log file")
	flags.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Also copy rows into Postgres")
	flags.StringVar(&cfg.PostgresTable, "postgres-table", cfg.PostgresTable, "Postgres table for copied rows")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVar(&cfg.StrictExit, "strict-exit", cfg.StrictExit, "Exit 1 when the listing or any item failed")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	return rootCmd
}

// applyEnv overrides defaults from SCRAPER_* variables. Flags still win.
func applyEnv(cfg *config.Config) error {
	for key, target := range map[string]*string{
		"SCRAPER_LISTING_URL":    &cfg.ListingURL,
		"SCRAPER_BASE_URL":       &cfg.BaseURL,
		"SCRAPER_POLICY":         &cfg.FailurePolicy,
		"SCRAPER_OUTPUT_DIR":     &cfg.OutputDir,
		"SCRAPER_FORMAT":         &cfg.OutputFormat,
		"SCRAPER_ERROR_LOG":      &cfg.ErrorLogFile,
		"SCRAPER_POSTGRES_DSN":   &cfg.PostgresDSN,
		"SCRAPER_POSTGRES_TABLE": &cfg.PostgresTable,
		"SCRAPER_METRICS_ADDR":   &cfg.MetricsAddr,
	} {
		if value, ok := config.EnvString(key); ok {
			*target = value
		}
	}

	for key, target := range map[string]*int{
		"SCRAPER_WORKERS":    &cfg.Workers,
		"SCRAPER_CACHE_SIZE": &cfg.CacheSize,
		"SCRAPER_DAY_OFFSET": &cfg.DayOffset,
	} {
		value, ok, err := config.EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	for key, target := range map[string]*bool{
		"SCRAPER_STRICT_EXIT": &cfg.StrictExit,
		"SCRAPER_VERBOSE":     &cfg.Verbose,
	} {
		value, ok, err := config.EnvBool(key)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	if raw, ok := config.EnvString("SCRAPER_TIMEOUT"); ok {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("SCRAPER_TIMEOUT: %w", err)
		}
		cfg.Timeout = timeout
	}
	return nil
}

// run performs one scrape and returns the process exit code. The error is
// reserved for failures that should also be reported by cobra.
func run(parent context.Context, cfg *config.Config) (int, error) {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1, nil
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight fetches")
	}()

	runID := uuid.New()
	slog.Info("starting scrape",
		slog.String("run_id", runID.String()),
		slog.String("listing_url", cfg.ListingURL),
		slog.Int("workers", cfg.Workers),
		slog.String("policy", cfg.FailurePolicy),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1, nil
	}

	writer, err := createWriter(ctx, cfg, runID)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1, nil
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer stopMetricsServer(metricsServer)

	errLog := pipeline.NewFileErrorLogger(cfg.ErrorLogFile, logger)
	p := pipeline.NewPipeline(s, writer, errLog, cfg, s.Metrics)

	result, err := p.Run(ctx, runID.String())
	if result != nil {
		printSummary(result, cfg)
	}
	if err != nil {
		slog.Error("persisting results failed", slog.String("run_id", runID.String()), slog.Any("error", err))
		return 1, nil
	}

	slog.Info("scrape finished",
		slog.String("run_id", runID.String()),
		slog.Int("written", result.Written),
		slog.Int("failed", result.Failed),
	)
	if cfg.StrictExit && result.HasFailures() {
		return 1, nil
	}
	return 0, nil
}

func createWriter(ctx context.Context, cfg *config.Config, runID uuid.UUID) (pipeline.OutputWriter, error) {
	var writers []pipeline.OutputWriter
	switch cfg.OutputFormat {
	case "csv":
		writers = append(writers, pipeline.NewCSVWriter(cfg.OutputDir, cfg.DayOffset))
	case "json":
		writers = append(writers, pipeline.NewJSONWriter(cfg.OutputDir, cfg.DayOffset))
	case "dual":
		writers = append(writers,
			pipeline.NewCSVWriter(cfg.OutputDir, cfg.DayOffset),
			pipeline.NewJSONWriter(cfg.OutputDir, cfg.DayOffset),
		)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}

	if cfg.PostgresDSN != "" {
		pg, err := pipeline.NewPostgresWriter(ctx, cfg.PostgresDSN, cfg.PostgresTable, runID)
		if err != nil {
			return nil, err
		}
		writers = append(writers, pg)
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	return pipeline.NewMultiWriter(writers...), nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func stopMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result *models.RunResult, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Aborted {
		fmt.Println("Scrape aborted")
	} else {
		fmt.Println("Scrape complete")
	}

	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Policy:        %s\n", result.Policy)
	if result.ListingErr != nil {
		fmt.Printf("  Listing error: %v\n", result.ListingErr)
	}
	fmt.Printf("  Discovered:    %d\n", result.Discovered)
	fmt.Printf("  Fetched:       %d\n", result.Fetched)
	fmt.Printf("  Failed:        %d\n", result.Failed)
	fmt.Printf("  Written:       %d\n", result.Written)
	for _, u := range result.FailedURLs {
		fmt.Printf("    - %s\n", u)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.Duration().Round(time.Millisecond))
	fmt.Printf("  Output dir:    %s\n", cfg.OutputDir)
	if result.HasFailures() {
		fmt.Printf("  Error log:     %s\n", cfg.ErrorLogFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
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
