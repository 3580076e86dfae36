package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-settlement-go/internal/api"
	"trade-settlement-go/internal/common"
	"trade-settlement-go/internal/config"
	"trade-settlement-go/internal/jobs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	addr := flag.String("addr", "", "Listen address (overrides SERVER_ADDR)")
	noJobs := flag.Bool("no-jobs", false, "Do not run the background job scheduler in this process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting trade settlement server", zap.String("addr", cfg.Server.Addr))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	handler := api.NewServer(api.Deps{
		Store:       services.DbService,
		Engine:      services.Engine,
		Chat:        services.Chat,
		Funds:       services.Funds,
		Tokens:      services.Verifier,
		Realtime:    services.Hub,
		ChatLimiter: services.ChatLimiter,
	}, cfg.Server).Routes()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var scheduler *jobs.Scheduler
	if !*noJobs {
		scheduler = jobs.NewScheduler(services.Jobs, cfg.Jobs)
		if err := scheduler.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start job scheduler", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		}
		if scheduler != nil {
			scheduler.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("Server stopped with error", zap.Error(err))
		services.Close()
		loggerCleanup()
		os.Exit(1)
	}
	zap.L().Info("Server stopped gracefully")
}
