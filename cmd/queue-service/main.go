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

	"qms/branch-queue/internal/app"
	"qms/branch-queue/internal/auth"
	"qms/branch-queue/internal/config"
	"qms/branch-queue/internal/display"
	"qms/branch-queue/internal/httpapi"
	"qms/branch-queue/internal/hub"
	"qms/branch-queue/internal/locale"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/render"
	"qms/branch-queue/internal/report"
	"qms/branch-queue/internal/settings"
	"qms/branch-queue/internal/telemetry"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "queue-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()
	st := backend.Store

	directory, err := loadDirectory(cfg)
	if err != nil {
		return err
	}

	displayLocale := locale.Match(cfg.DisplayLocale).String()
	renderer := render.NewTicketRenderer(render.Options{Locale: displayLocale, Location: time.Local})
	var spool *render.Spool
	if cfg.TicketSpoolDir != "" {
		spool = render.NewSpool(cfg.TicketSpoolDir, renderer)
	}
	printed := render.NewCache(renderer, 0, spool)
	issuer := queue.NewIssuer(st, queue.IssuerOptions{
		Sequencer: backend.Sequencer,
		Renderer:  printed,
		StatusURL: func(ticketID string) string { return cfg.PublicBaseURL + "/api/tickets/" + ticketID },
		Logger:    logger,
	})
	archiver := queue.NewArchiver(st)

	displayHub := hub.New(logger)
	projector := display.NewProjector(st, displayHub, display.Options{Locale: displayLocale, Logger: logger})
	go func() {
		if err := projector.Run(ctx); err != nil {
			logger.Error("display projector stopped", "error", err)
		}
	}()

	sessions := auth.NewSessionManager(cfg.SessionTTL, func(operatorName string) (*queue.Workflow, error) {
		return queue.NewWorkflow(st, operatorName, queue.WorkflowOptions{Notifier: projector, Logger: logger})
	})

	handler := httpapi.NewHandler(httpapi.Options{
		Issuer:    issuer,
		Status:    queue.NewStatusLookup(st, cfg.MinutesPerTicket),
		Archiver:  archiver,
		Reports:   report.NewService(st, report.Options{Location: time.Local}),
		Settings:  settings.NewService(st),
		Directory: directory,
		Sessions:  sessions,
		Board:     projector,
		Hub:       displayHub,
		Renderer:  renderer,
		Printed:   printed,
		Logger:    logger,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		OperatorPerMinute: cfg.OperatorRateLimitPerMinute,
		OperatorBurst:     cfg.OperatorRateLimitBurst,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10m", func() {
		limiter.Prune()
		if removed := sessions.Sweep(); removed > 0 {
			logger.Info("expired sessions removed", "count", removed)
		}
	}); err != nil {
		return err
	}
	if cfg.ArchiveCron != "" {
		if _, err := scheduler.AddFunc(cfg.ArchiveCron, func() {
			jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			moved, err := archiver.Archive(jobCtx)
			if err != nil {
				logger.Error("scheduled archive", "moved", moved, "error", err)
				return
			}
			logger.Info("scheduled archive", "moved", moved)
		}); err != nil {
			return err
		}
		logger.Info("archive scheduled", "schedule", cfg.ArchiveCron)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(handler.Routes())), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	return nil
}

func loadDirectory(cfg config.Config) (*auth.Directory, error) {
	if cfg.OperatorsFile != "" {
		return auth.LoadDirectory(cfg.OperatorsFile)
	}
	return auth.DefaultDirectory(cfg.OperatorPassword)
}
