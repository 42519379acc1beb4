package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"compliance-cloud/internal/audit"
	"compliance-cloud/internal/auth"
	"compliance-cloud/internal/observability/metrics"
	"compliance-cloud/internal/taxreport/application"
	"compliance-cloud/internal/taxreport/infrastructure/memory"
	taxpostgres "compliance-cloud/internal/taxreport/infrastructure/postgres"
	"compliance-cloud/internal/taxreport/infrastructure/rest"
	"compliance-cloud/internal/taxreport/infrastructure/sqlite"
	taxhttp "compliance-cloud/internal/taxreport/interfaces/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("dotenv load error: %v", err)
	}
	cfg := loadConfig()
	tuning, err := application.LoadConfig()
	if err != nil {
		logger.Fatalf("tax report config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
	}

	metrics.Init(db, logger)

	backend, err := buildBackend(cfg, db)
	if err != nil {
		logger.Fatalf("backend init error: %v", err)
	}
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store init error: %v", err)
	}
	defer closeStore()

	loader, err := application.NewLoader(backend,
		application.WithLookbackYears(tuning.LookbackYears),
		application.WithBatchSize(tuning.BatchSize),
		application.WithLoaderLogger(logger),
	)
	if err != nil {
		logger.Fatalf("loader init error: %v", err)
	}
	cache, err := application.NewCache(loader, store,
		application.WithTTL(tuning.TTL),
		application.WithPrefetch(tuning.PrefetchBatch, tuning.PrefetchPause),
		application.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("cache init error: %v", err)
	}
	if restored, err := cache.Restore(ctx); err != nil {
		logger.Printf("tax report cache restore skipped: %v", err)
	} else {
		logger.Printf("tax report cache restored %d companies", restored)
	}

	// Stopped last so the final flush sees every finished population.
	flushCtx, stopFlush := context.WithCancel(context.Background())
	defer stopFlush()
	flusher := application.NewFlusher(cache, tuning.FlushInterval, logger)
	flushDone := make(chan struct{})
	go func() {
		flusher.Start(flushCtx)
		close(flushDone)
	}()

	warmDone := make(chan struct{})
	go func() {
		defer close(warmDone)
		if len(tuning.WarmCompanies) == 0 {
			return
		}
		result := cache.PrefetchMany(ctx, tuning.WarmCompanies)
		logger.Printf("tax report warm-up: requested=%d fetched=%d failed=%d", result.Requested, result.Fetched, result.Failed)
	}()

	handlerOpts := []taxhttp.Option{taxhttp.WithLogger(logger), taxhttp.WithBaseContext(ctx)}
	if db != nil {
		handlerOpts = append(handlerOpts,
			taxhttp.WithCompanyChecker(auth.NewCompanyChecker(taxpostgres.NewCompanyRepository(db))),
			taxhttp.WithAuditLogger(audit.NewRepository(db)),
		)
	}
	taxHandler, err := taxhttp.NewHandler(cache, handlerOpts...)
	if err != nil {
		logger.Fatalf("tax report handler init error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	authMiddleware.Logger = logger

	mux := http.NewServeMux()
	mux.Handle("/api/v1/tax-reports/", taxHandler)
	mux.Handle("/api/v1/tax-report-cache", taxHandler)
	mux.Handle("/api/v1/tax-report-cache/", taxHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (backend=%s store=%s)", cfg.HTTPAddr, cfg.Backend, cfg.Store)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	stop()
	<-shutdownDone
	taxHandler.Wait()
	<-warmDone

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := cache.Drain(drainCtx); err != nil {
		logger.Printf("tax report populations still running at shutdown: %v", err)
	}
	cancelDrain()
	stopFlush()
	<-flushDone
}

func buildBackend(cfg config, db *sql.DB) (application.Backend, error) {
	switch cfg.Backend {
	case backendREST:
		client, err := rest.NewClient(cfg.RESTURL, cfg.RESTKey, rest.WithRequestRate(cfg.RESTRPS, cfg.RESTBurst))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		if db == nil {
			return nil, errors.New("postgres backend requires DATABASE_URL or PG_DSN")
		}
		return taxpostgres.NewPayrollRepository(db), nil
	}
}

func buildStore(ctx context.Context, cfg config) (application.Store, func(), error) {
	switch cfg.Store {
	case storeMemory:
		return memory.NewKVStore(), func() {}, nil
	default:
		store, err := sqlite.Open(ctx, cfg.CacheDBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
