package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jonathandeng7/ART/internal/application"
	appanalysis "github.com/jonathandeng7/ART/internal/application/analysis"
	"github.com/jonathandeng7/ART/internal/config"
	"github.com/jonathandeng7/ART/internal/infra/httpserver"
	"github.com/jonathandeng7/ART/internal/logger"
	"github.com/jonathandeng7/ART/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the configured store is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config load: %w", err)
		}
		log := logger.New("artd", cfg.Log.Level)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		repo, closeStore, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeStore(context.Background())

		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("store %s unreachable: %w", cfg.Store.Driver, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "store %s ok\n", cfg.Store.Driver)
		return nil
	},
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log := logger.New("artd", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeStore(closeCtx); err != nil {
			log.WithError(err).Warn("closing store")
		}
	}()

	svc := &appanalysis.Service{
		Repo:                  repo,
		Clock:                 application.SystemClock{},
		Log:                   log,
		DegradeOnStoreFailure: cfg.Store.DegradeOnFailure,
		ImageLinkExpiry:       cfg.Minio.LinkExpiry,
	}
	checks := map[string]middleware.HealthChecker{
		"store": middleware.CheckerFunc(repo.Ping),
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	if archive != nil {
		svc.Images = archive
		checks["minio"] = archive
		log.WithField("bucket", cfg.Minio.BucketName).Info("image archive enabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit.Capacity > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond)
		go limiter.Run(5*time.Minute, ctx.Done())
	}

	handler := httpserver.NewRouter(svc, httpserver.Options{
		Log:          log,
		Metrics:      middleware.NewMetrics(reg, cfg.Metrics.AnalysisTypes...),
		RateLimiter:  limiter,
		CORSOrigins:  cfg.Server.CORSOrigins,
		HealthChecks: checks,
		TrustProxy:   cfg.Server.TrustProxy,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}
