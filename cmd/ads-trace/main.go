package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/ads-trace/internal/api"
	"github.com/unklstewy/ads-trace/internal/auth"
	"github.com/unklstewy/ads-trace/internal/db"
	"github.com/unklstewy/ads-trace/pkg/adsb"
	"github.com/unklstewy/ads-trace/pkg/collector"
	"github.com/unklstewy/ads-trace/pkg/config"
	"github.com/unklstewy/ads-trace/pkg/history"
)

// ads-trace keeps a simplified flight path for every aircraft it hears about.
// It replays historical chunks at startup, then follows the live feed and
// serves the traces over HTTP.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of a password for auth.password_hash and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.NewService(auth.Config{}).HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	log.Println("===========================================")
	log.Println("  ADS-B Trace Service")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded from: %s", *configPath)

	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("Service failed: %v", err)
	}
	log.Println("✓ Service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	traces := collector.New(collector.Options{
		InboxSize:  cfg.Trace.InboxSize,
		StaleAfter: cfg.Trace.StaleAfterSeconds,
		Logger:     logger,
		Metrics:    collector.NewMetrics(reg),
	})
	log.Printf("✓ Trace collector ready (stale after %.0fs)", cfg.Trace.StaleAfterSeconds)

	var database *db.DB
	if cfg.Database.Enabled {
		log.Println("\nConnecting to database...")
		var err error
		database, err = db.ReconnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		log.Println("✓ Database connected")

		if err := database.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		log.Println("✓ Database schema initialized")
	}

	source, chunks, err := historySource(ctx, cfg, database)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(apiOptions(cfg, traces, database, reg, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return traces.Run(gctx)
	})

	if source != nil {
		loader := history.NewLoader(source, traces, logger, history.NewMetrics(reg))
		g.Go(func() error {
			log.Printf("Loading %d history chunks from %s source...", chunks, cfg.History.Source)
			res, err := loader.Load(gctx, chunks)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("history load failed: %w", err)
			}
			log.Printf("✓ History replayed: %d/%d chunks, %d records, %d skipped",
				res.Fetched, res.Requested, res.Records, res.Skipped)
			if res.Failed {
				log.Printf("  ⚠️  WARNING: a chunk failed to load, later chunks were ignored")
			}
			return nil
		})
	}

	if cfg.ADSB.Enabled {
		client := adsb.NewAirplanesLiveClient(cfg.ADSB.BaseURL,
			time.Duration(cfg.ADSB.RateLimitSeconds*float64(time.Second)))
		defer client.Close()

		var sink adsb.Sink = traces
		if database != nil {
			sink = db.NewRecorder(database, traces, logger)
		}

		feed := adsb.NewFeed(client, sink, adsb.FeedConfig{
			Latitude:  cfg.ADSB.Latitude,
			Longitude: cfg.ADSB.Longitude,
			RadiusNM:  cfg.ADSB.RadiusNM,
			Interval:  time.Duration(cfg.ADSB.UpdateIntervalSeconds) * time.Second,
			Retry:     adsb.DefaultRetryConfig(),
		}, logger)
		g.Go(func() error {
			return feed.Run(gctx)
		})
		log.Printf("✓ Live feed: %s (%.0f nm around %.4f, %.4f)",
			cfg.ADSB.BaseURL, cfg.ADSB.RadiusNM, cfg.ADSB.Latitude, cfg.ADSB.Longitude)
		if cfg.ADSB.RadiusNM > adsb.MaxRadiusNM {
			log.Printf("  ⚠️  WARNING: radius capped at %.0f nm", adsb.MaxRadiusNM)
		}
	}

	g.Go(func() error {
		return cleanLoop(gctx, traces, time.Duration(cfg.Trace.CleanIntervalSeconds)*time.Second)
	})

	if retention := time.Duration(cfg.History.LookbackMinutes) * time.Minute; database != nil && retention > 0 {
		g.Go(func() error {
			pruneLoop(gctx, database, retention, logger)
			return nil
		})
	}

	g.Go(func() error {
		log.Printf("📡 Server listening on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// historySource picks the configured chunk source and how many chunks to load.
// A nil source means no history is replayed.
func historySource(ctx context.Context, cfg *config.Config, database *db.DB) (history.Source, int, error) {
	h := cfg.History
	switch h.Source {
	case config.HistoryHTTP:
		return history.NewHTTPSource(h.BaseURL), h.Chunks, nil

	case config.HistoryDir:
		n := h.Chunks
		if n == 0 {
			n = history.CountChunks(h.Dir)
		}
		return history.DirSource{Dir: h.Dir}, n, nil

	case config.HistoryDatabase:
		since := time.Now().Add(-time.Duration(h.LookbackMinutes) * time.Minute)
		src := db.NewChunkSource(database, since, time.Duration(h.BucketSeconds)*time.Second)
		n := h.Chunks
		if n == 0 {
			var err error
			if n, err = src.ChunkCount(ctx); err != nil {
				return nil, 0, err
			}
		}
		return src, n, nil
	}
	return nil, 0, nil
}

func apiOptions(cfg *config.Config, traces *collector.Collector, database *db.DB, reg *prometheus.Registry, logger *slog.Logger) api.Options {
	opts := api.Options{
		Traces:   traces,
		Gatherer: reg,
		Logger:   logger,
	}
	if cfg.Auth.Enabled {
		opts.Auth = auth.NewService(auth.Config{
			JWTSecret:     cfg.Auth.JWTSecret,
			PasswordHash:  cfg.Auth.PasswordHash,
			TokenDuration: time.Duration(cfg.Auth.TokenDurationHours) * time.Hour,
		})
		log.Println("✓ Operator authentication enabled")
	}
	if database != nil {
		opts.Health = func(ctx context.Context) bool { return db.HealthCheck(ctx, database) }
		opts.DBStats = database.GetStats
	}
	return opts
}

// cleanLoop evicts stale traces relative to wall-clock time.
func cleanLoop(ctx context.Context, traces *collector.Collector, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := traces.Clean(ctx, float64(now.UnixNano())/1e9); err != nil {
				return nil
			}
		}
	}
}

// pruneLoop deletes recorded positions older than retention once an hour.
func pruneLoop(ctx context.Context, database *db.DB, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := database.CleanupOldData(ctx, retention)
			if err != nil {
				logger.Warn("position cleanup failed", "error", err)
				continue
			}
			logger.Info("position cleanup", "deleted", n)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
