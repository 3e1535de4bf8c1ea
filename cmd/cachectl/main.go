// cachectl administers the on-disk dataset cache: report its size or
// clear it between projects.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/buildenergy/epwmorph/internal/cache"
	"github.com/buildenergy/epwmorph/internal/config"
	"github.com/buildenergy/epwmorph/internal/observability"
)

func main() {
	configPath := flag.String("config", "morph.yaml", "path to the run configuration file")
	stats := flag.Bool("stats", false, "print cache entry count and size")
	clear := flag.Bool("clear", false, "remove every cache entry")
	flag.Parse()

	if *stats == *clear {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, "text")

	// No fetcher: this tool only inspects and clears.
	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.MaxBytes, nil, logger, observability.NewMetrics(), clockwork.NewRealClock())
	if err != nil {
		logger.Error("failed to open dataset cache", "dir", cfg.Cache.Dir, "error", err)
		os.Exit(1)
	}

	switch {
	case *stats:
		entries, bytes := store.Stats()
		logger.Info("cache stats", "dir", cfg.Cache.Dir, "entries", entries, "bytes", bytes)
	case *clear:
		if err := store.Clear(); err != nil {
			logger.Error("failed to clear cache", "error", err)
			os.Exit(1)
		}
		logger.Info("cache cleared", "dir", cfg.Cache.Dir)
	}
}
