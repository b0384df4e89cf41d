package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-gateway/funnel"
	"storefront-gateway/middleware/assignqueue"
	"storefront-gateway/middleware/ratelimit"
	"storefront-gateway/middleware/ratelimit/domain"
	"storefront-gateway/middleware/ratelimit/infra"

	"github.com/gorilla/mux"
)

func main() {
	// Exemplo: rate limit por tenant + fila de atribuição direto no seu webserver (sem proxy)
	limiter := infra.NewTenantStore()
	queue := assignqueue.New[funnel.Assignment, funnel.Result]()
	defer queue.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	limiter.StartJanitor(ctx)

	r := mux.NewRouter()
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Limiter:             limiter,
		Policy:              domain.Policy{Key: "demo", Limit: 20, Window: time.Minute},
		AddRateLimitHeaders: true,
	}))
	(&funnel.Handler{Queue: queue, Assigner: funnel.NewMemoryAssigner()}).Register(r)
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
