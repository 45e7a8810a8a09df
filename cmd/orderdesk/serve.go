package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onlab/orderdesk/internal/httpapi"
	"github.com/onlab/orderdesk/internal/middleware"
	"github.com/onlab/orderdesk/internal/notify"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the scheduled sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	api, err := httpapi.New(httpapi.Config{
		Engine:         a.engine,
		Accounts:       a.accounts,
		Ledger:         a.ledger,
		Orders:         a.orders,
		Notifications:  notify.NewService(a.notifications),
		Streamer:       notify.NewStreamer(a.hub, logger, cfg.Origins()),
		Reports:        a.reports,
		Auth:           middleware.NewAuthMiddleware([]byte(cfg.SupabaseJWTSecret), logger, nil),
		RateLimiter:    limiter,
		CORS:           middleware.NewCORSMiddleware(cfg.Origins()),
		Logger:         logger,
		Metrics:        a.metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SignedURLTTL:   cfg.SignedURLTTL,
	})
	if err != nil {
		return err
	}

	sw, err := a.newSweeper(ctx)
	if err != nil {
		return err
	}

	var bridge *notify.RealtimeBridge
	if cfg.RealtimeBridge {
		sb, err := a.supabaseClient()
		if err != nil {
			return err
		}
		bridge = notify.NewRealtimeBridge(sb.Realtime(), a.hub, logger)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	limiter.StartCleanup(time.Minute, gctx.Done())
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}

	sw.Start()
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serr := sw.Stop(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
		return err
	})

	return g.Wait()
}
