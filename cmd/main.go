// ingestion-service
//
// Pulls job listings from an external job board (JSearch or Adzuna) within a
// call quota, inserts the ones not seen before into the jobs table, and pushes
// each new job to connected websocket clients as a newJobAvailable event.
//
// Cycles run twice daily from cron and on demand via GET /sync.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"jobboard/ingestion-service/internal/broadcast"
	"jobboard/ingestion-service/internal/config"
	"jobboard/ingestion-service/internal/db"
	"jobboard/ingestion-service/internal/httpapi"
	"jobboard/ingestion-service/internal/ingest"
	"jobboard/ingestion-service/internal/logging"
	"jobboard/ingestion-service/internal/provider"
	"jobboard/ingestion-service/internal/quota"
	"jobboard/ingestion-service/internal/scheduler"
	"jobboard/ingestion-service/internal/store"
)

const (
	service       = "ingestion-service"
	version       = "1.0.0"
	shutdownGrace = 5 * time.Second
)

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Config error: %v\n", service, err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("Service failed", "error", err.Error())
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Infow("Connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	jobs := store.NewPostgres(pool)
	if err := jobs.EnsureSchema(ctx); err != nil {
		return err
	}
	log.Infow("PostgreSQL connected")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Infow("Connecting to Redis")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	log.Infow("Redis connected")

	// ── Provider + quota ─────────────────────────────────────────────────────
	client, err := newProviderClient(cfg)
	if err != nil {
		return err
	}

	tracker, err := quota.New(ctx, cfg.QuotaCallsPerWindow, cfg.QuotaWindow,
		quota.NewRedisStore(rdb, client.Name()), log.Named("quota"))
	if err != nil {
		return err
	}

	adapter := provider.NewAdapter(client, tracker, log.Named("provider"),
		provider.WithRedFlags(cfg.ExcludeTerms))

	// ── Ingestor + broadcaster ───────────────────────────────────────────────
	ingestor := ingest.New(jobs, log.Named("ingest"))

	hub := broadcast.NewHub(log.Named("broadcast"), broadcast.WithAllowedOrigins(cfg.WSAllowedOrigins))
	defer hub.Close()

	var publisher broadcast.Publisher = hub
	if cfg.BroadcastMode == config.BroadcastRedis {
		relay := broadcast.NewRedisRelay(rdb, hub, log.Named("relay"))
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Errorw("Redis relay stopped", "error", err.Error())
			}
		}()
		publisher = relay
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(adapter, ingestor, publisher, scheduler.Config{
		Spec:         cfg.CronSpec(),
		Candidates:   cfg.SyncCandidates,
		CycleTimeout: cfg.CycleTimeout,
		Cooldown:     cfg.Cooldown,
		RunOnStart:   cfg.SyncOnStart,
	}, log.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	h := httpapi.NewHandler(sched, tracker, hub.ServeWS, httpapi.Config{
		DefaultRole: cfg.SyncDefaultRole,
		Service:     service,
		Version:     version,
		Sessions:    hub.SessionCount,
	}, log.Named("http"))
	h.RegisterRoutes(mux)

	// A manual /sync holds its response until the cycle ends.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.CycleTimeout + 10*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("Listening", "version", version, "port", cfg.Port, "provider", client.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}

	log.Infow("Shutting down")
	// In-flight manual cycles get their full cycle timeout before the pool
	// and Redis client are closed.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.CycleTimeout+shutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Shutdown error", "error", err.Error())
	}
	log.Infow("Stopped")
	return nil
}

// newProviderClient builds the configured job-board client behind a shared
// request pacer.
func newProviderClient(cfg *config.Config) (provider.Client, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.ProviderRPS), 1)
	httpClient := &http.Client{Timeout: cfg.CycleTimeout}

	switch cfg.Provider {
	case config.ProviderAdzuna:
		return provider.NewAdzunaFetcher(provider.AdzunaConfig{
			AppID:      cfg.AdzunaAppID,
			AppKey:     cfg.AdzunaAppKey,
			Country:    cfg.AdzunaCountry,
			MaxPages:   cfg.ProviderPages,
			HTTPClient: httpClient,
			Limiter:    limiter,
		})
	default:
		return provider.NewJSearch(provider.JSearchConfig{
			APIKey:     cfg.JSearchAPIKey,
			Host:       cfg.JSearchHost,
			BaseURL:    cfg.JSearchBaseURL,
			Pages:      cfg.ProviderPages,
			HTTPClient: httpClient,
			Limiter:    limiter,
		})
	}
}
