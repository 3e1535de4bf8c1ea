package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/buildenergy/epwmorph/internal/adapter/cmip"
	httpadapter "github.com/buildenergy/epwmorph/internal/adapter/http"
	"github.com/buildenergy/epwmorph/internal/cache"
	"github.com/buildenergy/epwmorph/internal/config"
	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/ensemble"
	"github.com/buildenergy/epwmorph/internal/epw"
	"github.com/buildenergy/epwmorph/internal/grid"
	"github.com/buildenergy/epwmorph/internal/morph"
	"github.com/buildenergy/epwmorph/internal/observability"
	"github.com/buildenergy/epwmorph/internal/workflow"
)

func main() {
	configPath := flag.String("config", "morph.yaml", "path to the run configuration file")
	flag.Parse()

	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	series, err := readWeatherFile(cfg.WeatherFile)
	if err != nil {
		logger.Error("failed to read weather file", "path", cfg.WeatherFile, "error", err)
		os.Exit(1)
	}
	logger.Info("weather file loaded",
		"path", cfg.WeatherFile,
		"location", series.Location.Title,
		"period_of_record", series.BaselineRange.String())

	client := cmip.NewClient(cfg.Source.BaseURL, cfg.Source.TimeoutDuration, logger, metrics)
	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.MaxBytes, client, logger, metrics, clockwork.NewRealClock())
	if err != nil {
		logger.Error("failed to open dataset cache", "dir", cfg.Cache.Dir, "error", err)
		os.Exit(1)
	}

	assembler := ensemble.NewAssembler(store, logger, metrics, cfg.Concurrency)
	engine := morph.NewEngine(logger, metrics)
	runner := workflow.NewRunner(assembler, engine, logger, metrics)

	mode := grid.Nearest
	if cfg.Interpolate {
		mode = grid.Bilinear
	}
	params := workflow.Params{
		Project:     cfg.Project,
		Variables:   cfg.Variables,
		Pathways:    cfg.Pathways,
		Percentiles: cfg.Percentiles,
		Years:       cfg.Years,
		Models:      cfg.Models,
		Resolution:  cfg.Source.Resolution,
		Mode:        mode,
		OutputDir:   cfg.OutputDir,
	}
	if cfg.DryRun {
		params.OutputDir = ""
	}
	if r, ok := cfg.BaselineRange(); ok {
		params.Baseline = r
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DebugAddr != "" {
		monitor := httpadapter.NewServer(cfg.DebugAddr, runner, logger)
		go func() {
			if err := monitor.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := monitor.Shutdown(shutdownCtx); err != nil {
				logger.Error("monitor server shutdown failed", "error", err)
			}
		}()
	}

	result, err := runner.Run(ctx, series, params)
	if err != nil {
		if result != nil {
			logger.Error("morphing run failed", "error", err,
				"completed", len(result.Outputs), "skipped", len(result.Skipped))
		} else {
			logger.Error("morphing run failed", "error", err)
		}
		os.Exit(1)
	}

	for _, skip := range result.Skipped {
		logger.Warn("combination skipped", "combination", skip.Combination.String(), "reason", skip.Reason)
	}
	entries, bytes := store.Stats()
	logger.Info("morphing run complete",
		"outputs", len(result.Outputs),
		"skipped", len(result.Skipped),
		"cache_entries", entries,
		"cache_bytes", bytes)
}

func readWeatherFile(path string) (series *domain.WeatherSeries, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close weather file: %w", cerr)
		}
	}()
	return epw.Read(f)
}
