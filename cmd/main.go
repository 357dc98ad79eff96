package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"storefront-service/internal/api"
	"storefront-service/internal/cache"
	"storefront-service/internal/catalog"
	"storefront-service/internal/catalogapi"
	"storefront-service/internal/commerce"
	"storefront-service/internal/config"
	"storefront-service/internal/logger"
	"storefront-service/internal/metrics"
	"storefront-service/internal/persist"
	"storefront-service/internal/store"
)

const (
	defaultAppName = "StorefrontService"
	sweepInterval  = time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found or failed to load, relying on system environment")
	}

	// --- Configuration Loading ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Error loading configuration: %v", err)
	}

	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel, defaultAppName)
	if err != nil {
		log.Fatalf("FATAL: Error building logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck
	zl.Info("Starting service...", zap.String("app_env", cfg.AppEnv), zap.String("log_level", cfg.LogLevel))

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Database Connection ---
	var db *sql.DB
	if cfg.NeedsPostgres() {
		db, err = openDB(cfg.Postgres.DSN())
		if err != nil {
			zl.Fatal("Failed to initialize database connection", zap.Error(err))
		}
		zl.Info("Database connection established")
	}

	// --- Slot Storage ---
	slots, closeSlots, err := openSlots(cfg, db, zl)
	if err != nil {
		zl.Fatal("Failed to open slot storage", zap.Error(err))
	}
	writer := persist.NewWriter(persist.NewAdapter(slots, zl.Named("persist")), 0)

	ctx := context.Background()
	stores := commerce.NewRegistry(ctx, commerce.Options{Persister: writer, Logger: zl.Named("commerce"), Metrics: m})
	results := cache.New(ctx, cache.Options{Expiry: cfg.Catalog.CacheTTL, Persister: writer, Logger: zl.Named("cache"), Metrics: m})

	// --- Catalog ---
	source, closeSource := productSource(cfg, db, zl)
	engine := catalog.New(source, results, catalog.Options{
		Timeout:  cfg.Catalog.APITimeout,
		Shuffler: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		Logger:   zl.Named("catalog"),
		Metrics:  m,
	})
	sessions := catalog.NewSessions(engine, m, cfg.Catalog.SessionLimit)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go sweepResults(sweepCtx, results, zl)

	// --- Initialize API Handlers ---
	httpAPIHandler := api.NewHTTPHandler(engine, sessions, stores, zl.Named("http"))
	grpcAPIHandler := api.NewGRPCHandler(engine, sessions, stores, zl.Named("grpc"))

	// --- Setup & Start HTTP Server ---
	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, zl)
	registerHealthCheck(httpRouter, zl, db)
	httpRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpAPIHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		zl.Info("HTTP server listening", zap.String("port", cfg.HttpServer.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server ListenAndServe error", zap.Error(err))
		}
		zl.Info("HTTP server has stopped")
	}()

	// --- Setup & Start gRPC Server ---
	grpcServer := setupGRPCServer(zl, grpcAPIHandler)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		zl.Fatal("Failed to listen for gRPC", zap.String("port", cfg.GrpcServer.Port), zap.Error(err))
	}

	go func() {
		zl.Info("gRPC server listening", zap.String("port", cfg.GrpcServer.Port))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			zl.Fatal("gRPC server Serve error", zap.Error(err))
		}
		zl.Info("gRPC server has stopped")
	}()

	// --- Graceful Shutdown ---
	shutdownComplete := make(chan struct{})
	go waitForShutdown(zl, httpServer, grpcServer, shutdownComplete)
	<-shutdownComplete

	stopSweep()
	stores.Close()
	results.Flush(ctx)
	flushCtx, cancelFlush := context.WithTimeout(ctx, 10*time.Second)
	if err := writer.Close(flushCtx); err != nil {
		zl.Warn("Pending slot writes were not flushed", zap.Int("pending", writer.Pending()), zap.Error(err))
	}
	cancelFlush()
	for _, closer := range []io.Closer{closeSlots, closeSource} {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			zl.Warn("Error closing resource", zap.Error(err))
		}
	}
	zl.Info("Service shutdown sequence finished")
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// openSlots picks the slot storage backend. The returned closer may be nil.
func openSlots(cfg *config.Config, db *sql.DB, zl *zap.Logger) (persist.SlotStorage, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.StorageBadger:
		b, err := persist.OpenBadgerSlots(cfg.Storage.BadgerPath, zl.Named("badger"))
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.StoragePostgres:
		zl.Info("Using PostgreSQL slot storage")
		return persist.NewPostgresSlots(db), nil, nil
	default:
		zl.Info("Using in-memory slot storage; commerce state will not survive a restart")
		return persist.NewMemorySlots(), nil, nil
	}
}

// productSource picks where catalog data comes from. The returned closer owns db when non-nil.
func productSource(cfg *config.Config, db *sql.DB, zl *zap.Logger) (store.ProductSource, io.Closer) {
	if cfg.Catalog.Source == config.SourcePostgres {
		pg := store.NewPostgresStore(db, zl.Named("store"))
		return pg, pg
	}
	if cfg.Catalog.APIBaseURL == "" {
		zl.Warn("CATALOG_API_BASE_URL is empty; catalog queries will return empty results")
	}
	client := catalogapi.NewClient(cfg.Catalog.APIBaseURL, cfg.Catalog.APITimeout)
	if db != nil {
		return client, db
	}
	return client, nil
}

// sweepResults drops expired entries and persists the cache once per interval.
func sweepResults(ctx context.Context, results *cache.Results, zl *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := results.Sweep(); n > 0 {
				zl.Debug("Swept expired cache entries", zap.Int("removed", n))
			}
			results.Flush(ctx)
		}
	}
}

func setupBaseMiddleware(router *chi.Mux, zl *zap.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	zl.Info("Base HTTP middleware registered")
}

func registerHealthCheck(router *chi.Mux, zl *zap.Logger, db *sql.DB) {
	healthPath := "/api/v1/healthz"
	router.Get(healthPath, func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "not_configured"
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			dbStatus = "healthy"
			if err := db.PingContext(ctx); err != nil {
				dbStatus = "unhealthy"
				zl.Warn("Health check DB ping failed", zap.Error(err))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK) // Always 200, the payload carries the detail.
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "healthy",
			"serviceName": defaultAppName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"database":    dbStatus,
		})
	})
	zl.Info("HTTP health check registered", zap.String("path", healthPath))
}

func setupGRPCServer(zl *zap.Logger, grpcAPIHandler *api.GRPCHandler) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(api.RecoveryUnaryInterceptor(zl.Named("grpc"))))

	api.RegisterStorefrontServer(s, grpcAPIHandler)
	zl.Info("Storefront gRPC service registered")

	grpc_health_v1.RegisterHealthServer(s, health.NewServer())
	zl.Info("gRPC health check service registered")

	reflection.Register(s)
	zl.Info("gRPC reflection service registered")

	return s
}

func waitForShutdown(
	zl *zap.Logger,
	httpServer *http.Server,
	grpcServer *grpc.Server,
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-sigChan
	zl.Info("Received signal, starting graceful shutdown", zap.String("signal", receivedSignal.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	zl.Info("Attempting to gracefully shut down gRPC server...")
	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	zl.Info("Attempting to gracefully shut down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		zl.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		zl.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		zl.Warn("gRPC server graceful shutdown timed out, forcing stop", zap.Error(shutdownCtx.Err()))
		grpcServer.Stop()
	}
}
