package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/patient-deep-search/internal/adapters/http"
	"github.com/kirillkom/patient-deep-search/internal/bootstrap"
	"github.com/kirillkom/patient-deep-search/internal/config"
	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/upload/localfs"
	"github.com/kirillkom/patient-deep-search/internal/observability/logging"
	"github.com/kirillkom/patient-deep-search/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	deepSearchMetrics := metrics.NewDeepSearchMetrics("api", httpMetrics.Registerer())
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:          logger,
		Observer:        deepSearchMetrics,
		OnBreakerChange: deepSearchMetrics.ObserveBreakerChange,
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	storage, err := localfs.New(cfg.UploadPath)
	if err != nil {
		log.Fatalf("init upload storage: %v", err)
	}

	sessions := httpadapter.NewSessions(func(session domain.Session) ports.Conversation {
		return app.NewConversation(session)
	}, httpadapter.SessionOptions{
		IdleTTL:     cfg.SessionIdleTTL,
		MaxSessions: cfg.MaxSessions,
		Remover:     storage,
		OnChange:    httpMetrics.SetActiveSessions,
		Logger:      logger,
	})
	go sessions.Run(ctx, time.Minute)

	router := httpadapter.NewRouter(cfg, sessions, storage, app.Loader, httpMetrics).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "records_api", cfg.RecordsAPIURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
