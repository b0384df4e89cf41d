package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storefront-gateway/funnel"
	"storefront-gateway/middleware/assignqueue"
	"storefront-gateway/middleware/ratelimit"
	"storefront-gateway/middleware/ratelimit/domain"
	"storefront-gateway/middleware/ratelimit/infra"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.logLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter := infra.NewTenantStore(
		infra.WithIdleTTL(cfg.rateIdleTTL),
		infra.WithCleanupEvery(cfg.rateCleanupEvery),
	)
	limiter.StartJanitor(ctx)
	defer limiter.Close()

	stats := infra.MultiStatsStore{}
	if cfg.metricsEnabled {
		stats = append(stats, infra.NewPrometheusStatsStore(reg))
	}
	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			logger.Error("redis stats ping error", "error", err)
			os.Exit(1)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackTenants(cfg.rateStatsTrackTenants),
		))
	}

	var assigner funnel.Assigner = funnel.NewMemoryAssigner()
	if cfg.databaseURL != "" {
		pg, err := funnel.NewPostgresAssigner(ctx, cfg.databaseURL)
		if err != nil {
			logger.Error("postgres error", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("postgres schema error", "error", err)
			os.Exit(1)
		}
		assigner = pg
	}

	queueOpts := []assignqueue.Option{
		assignqueue.WithMaxQueueSize(cfg.queueMaxSize),
		assignqueue.WithTimeout(cfg.queueTimeout),
		assignqueue.WithPace(cfg.queuePace),
		assignqueue.WithSweepEvery(cfg.queueSweepEvery),
	}
	if cfg.metricsEnabled {
		queueOpts = append(queueOpts, assignqueue.WithObserver(assignqueue.NewPrometheusObserver(reg)))
	}
	queue := assignqueue.New[funnel.Assignment, funnel.Result](queueOpts...)
	defer queue.Close()

	var upstream http.Handler
	if cfg.upstreamURL != "" {
		target, err := url.Parse(cfg.upstreamURL)
		if err != nil {
			logger.Error("invalid UPSTREAM_URL", "error", err)
			os.Exit(1)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("proxy error", "error", err, "path", r.URL.Path)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		upstream = proxy
	}

	deps := routerDeps{
		cfg:      cfg,
		limiter:  limiter,
		stats:    stats,
		queue:    queue,
		assigner: assigner,
		upstream: upstream,
		logger:   logger,
	}
	if cfg.metricsEnabled {
		deps.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a atribuição pode esperar na fila até QUEUE_WAIT
		WriteTimeout: cfg.queueWait + 10*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", cfg.upstreamURL)
	logger.Info("rate", "enabled", cfg.rateEnabled, "limit", cfg.rateLimit, "window", cfg.rateWindow,
		"assign_limit", cfg.rateAssignLimit, "assign_window", cfg.rateAssignWindow, "idle_ttl", cfg.rateIdleTTL,
		"cleanup_every", limiter.CleanupEvery())
	logger.Info("rate-stats", "enabled", cfg.rateStatsEnabled, "redis_addr", cfg.rateStatsRedisAddr,
		"bucket", cfg.rateStatsBucket, "ttl", cfg.rateStatsTTL, "track_tenants", cfg.rateStatsTrackTenants)
	logger.Info("queue", "max_size", cfg.queueMaxSize, "timeout", cfg.queueTimeout, "pace", cfg.queuePace,
		"postgres", cfg.databaseURL != "")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type routerDeps struct {
	cfg      config
	limiter  *infra.TenantStore
	stats    domain.StatsStore
	queue    *funnel.Queue
	assigner funnel.Assigner
	upstream http.Handler
	metrics  http.Handler
	logger   *slog.Logger
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog(d.logger))

	if d.metrics != nil {
		r.Handle("/metrics", d.metrics).Methods(http.MethodGet)
	}
	r.Handle("/admin/tenants/{tenant}/ratelimit", ratelimit.StatsHandler(d.limiter)).Methods(http.MethodGet)

	assignPolicy := domain.Policy{Key: "funnel.assign", Limit: d.cfg.rateAssignLimit, Window: d.cfg.rateAssignWindow}
	defaultPolicy := domain.Policy{Key: "api", Limit: d.cfg.rateLimit, Window: d.cfg.rateWindow}

	api := r.PathPrefix("/").Subrouter()
	if d.cfg.rateEnabled {
		api.Use(ratelimit.Middleware(ratelimit.Options{
			Limiter: d.limiter,
			Stats:   d.stats,
			PolicyFn: func(req *http.Request) domain.Policy {
				if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/assign") {
					return assignPolicy
				}
				return defaultPolicy
			},
			AddRateLimitHeaders: d.cfg.addHeaders,
		}))
	}

	h := &funnel.Handler{
		Queue:       d.queue,
		Assigner:    d.assigner,
		Logger:      d.logger,
		WaitTimeout: d.cfg.queueWait,
	}
	h.Register(api)

	if d.upstream != nil {
		api.PathPrefix("/").Handler(d.upstream)
	}
	return r
}

func accessLog(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"tenant_id", r.Header.Get(ratelimit.DefaultTenantHeader),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
