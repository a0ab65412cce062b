package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/company"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/domain/staff"
	"hrpay/internal/domain/tax"
	"hrpay/internal/platform/config"
	cryptoutil "hrpay/internal/platform/crypto"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/jobs"
	"hrpay/internal/platform/logging"
	"hrpay/internal/platform/metrics"
	audithandler "hrpay/internal/transport/http/handlers/audit"
	authhandler "hrpay/internal/transport/http/handlers/auth"
	companyhandler "hrpay/internal/transport/http/handlers/company"
	payrollhandler "hrpay/internal/transport/http/handlers/payroll"
	staffhandler "hrpay/internal/transport/http/handlers/staff"
	taxhandler "hrpay/internal/transport/http/handlers/tax"
	"hrpay/internal/transport/http/middleware"
)

const shutdownTimeout = 20 * time.Second

type App struct {
	Config  config.Config
	DB      *pgxpool.Pool
	Router  http.Handler
	Logger  *slog.Logger
	Jobs    *jobs.Service
	Payroll *payroll.Service
}

// New connects to the database, applies migrations and the seed, and wires
// every service behind the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	crypto, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if !crypto.Configured() {
		slog.Warn("DATA_ENCRYPTION_KEY not set; sensitive staff fields are stored in plain text")
	}

	collector := metrics.New()
	perms := auth.NewStaticPermissions()
	auditSvc := audit.New(pool)

	authSvc := auth.NewService(auth.NewStore(pool), cfg.JWTSecret, 0)
	companySvc := company.NewService(company.NewStore(pool), auditSvc)
	staffSvc := staff.NewService(staff.NewStore(pool, crypto), auditSvc)

	taxStore := tax.NewStore(pool)
	provider := tax.NewProvider(taxStore, tax.WithTTL(cfg.TaxConfigCacheTTL), tax.WithObserver(collector))
	taxSvc := tax.NewService(taxStore, provider, auditSvc)

	jobSvc := jobs.New(jobs.NewRunLog(pool), jobs.WithObserver(collector), jobs.WithWorkers(2))
	opts := []payroll.Option{
		payroll.WithJobs(jobSvc),
		payroll.WithObserver(collector),
		payroll.WithWorkers(cfg.PayrollWorkers),
	}
	if cfg.PayslipDir != "" {
		opts = append(opts, payroll.WithPayslipArchive(&payroll.PayslipArchive{Dir: cfg.PayslipDir, Crypto: crypto}))
	}
	payrollSvc := payroll.NewService(payroll.NewStore(pool, crypto), staffSvc, companySvc, provider, auditSvc, opts...)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.AccessLog(logger))
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.IdempotencyHeader, "X-Company-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Total-Count", "Idempotent-Replay", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Metrics(collector))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.LogCaller)
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if cfg.MetricsEnabled {
		router.Handle("/metrics", collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		authHandler := authhandler.NewHandler(authSvc, perms, auditSvc)
		r.Post("/auth/login", authHandler.HandleLogin)
		authHandler.RegisterRoutes(r)

		companyhandler.NewHandler(companySvc, perms).RegisterRoutes(r)
		staffhandler.NewHandler(staffSvc, perms).RegisterRoutes(r)
		taxhandler.NewHandler(taxSvc, companySvc, perms).RegisterRoutes(r)
		payrollhandler.NewHandler(payrollSvc, perms, middleware.NewIdempotencyStore(pool)).RegisterRoutes(r)
		audithandler.NewHandler(auditSvc, perms).RegisterRoutes(r)
	})

	return &App{
		Config:  cfg,
		DB:      pool,
		Router:  router,
		Logger:  logger,
		Jobs:    jobSvc,
		Payroll: payrollSvc,
	}, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	a.Jobs.Start(ctx)
	if resumed, err := a.Payroll.ResumeProcessing(ctx); err != nil {
		slog.Warn("resume payroll runs failed", "err", err)
	} else if resumed > 0 {
		slog.Info("resumed payroll runs", "count", resumed)
	}

	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hrpay server listening", "addr", a.Config.Addr, "env", a.Config.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	slog.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
