package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lendscan/risk-engine/internal/config"
	"github.com/lendscan/risk-engine/internal/ingest"
	"github.com/lendscan/risk-engine/internal/market"
	"github.com/lendscan/risk-engine/internal/metrics"
	"github.com/lendscan/risk-engine/internal/risk"
	"github.com/lendscan/risk-engine/internal/store"
	"github.com/lendscan/risk-engine/internal/subgraph"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Configuration ---
	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			slog.Error("config load failed", "path", path, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("SUBGRAPH_API_KEY")
	if apiKey == "" {
		slog.Warn("SUBGRAPH_API_KEY not set, subgraph requests will likely be rejected")
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Subgraph clients, one per chain ---
	subgraphOpts := subgraph.Options{
		Timeout:         time.Duration(cfg.Subgraph.TimeoutSeconds) * time.Second,
		RPS:             cfg.Subgraph.RPS,
		Burst:           cfg.Subgraph.Burst,
		BreakerFailures: cfg.Subgraph.BreakerMaxFailures,
		BreakerCooldown: time.Duration(cfg.Subgraph.BreakerCooldownSeconds) * time.Second,
	}
	fetchers := make(map[string]subgraph.Fetcher, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		fetchers[chain.ChainID] = subgraph.NewClient(chain.URL(apiKey), subgraphOpts)
		slog.Info("tracking chain", "chain", chain.ChainID, "name", chain.Name)
	}

	// --- WebSocket hub ---
	hub := risk.NewHub()
	go hub.Run()

	// --- Services ---
	riskSvc := risk.NewService(cfg, st, fetchers, hub)
	marketSvc := market.NewService(cfg, st)

	// --- Scheduled ingestion ---
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	go ingest.New(cfg, st, fetchers, hub).Run(ingestCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for analysis completion events.
		r.Get("/ws", hub.HandleWS)

		r.Route("/risk/{chainID}", func(r chi.Router) {
			r.Get("/", riskSvc.GetAnalysis)
			r.Get("/reserves", riskSvc.GetReserves)
			r.Get("/latest", riskSvc.GetLatest)
			r.Get("/history", riskSvc.GetHistory)
			r.Get("/simulate", riskSvc.SimulateScenario)
		})

		r.Get("/overview", marketSvc.GetOverview)
		r.Get("/events/{chainID}", marketSvc.GetEvents)
		r.Route("/markets/{chainID}/{marketID}/{asset}", func(r chi.Router) {
			r.Get("/history", marketSvc.GetHistory)
			r.Get("/latest", marketSvc.GetLatest)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // on-demand analysis pages the subgraph
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopIngest()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("risk-engine stopped")
}
