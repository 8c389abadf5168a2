package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/api"
	"github.com/0gfoundation/0g-yield-bridge/internal/auth"
	"github.com/0gfoundation/0g-yield-bridge/internal/health"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the withdrawal worker and the health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	// ── Goroutines ────────────────────────────────────────────────────────────
	workerDone := make(chan struct{})
	if cfg.Worker.Enabled {
		go func() {
			defer close(workerDone)
			a.worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}
	monitor := health.NewMonitor(map[string]health.Probe{
		"redis": func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
	}, 10*time.Second, log)
	go monitor.Run(ctx)
	go func() {
		if err := monitor.Serve(ctx, fmt.Sprintf(":%d", cfg.Server.GRPCPort)); err != nil {
			log.Error("gRPC health server error", zap.Error(err))
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	resolver := auth.NewIndexerResolver(a.indexer, a.rdb, time.Hour)
	nonces := auth.NewNonceStore(a.rdb)
	api.NewHandler(a.oracle, a.deposits, a.intake, a.worker, a.history, log).Register(r, api.Middlewares{
		Signed: func(action string) gin.HandlerFunc { return auth.Middleware(action, resolver, nonces, log) },
		Admin:  auth.AdminMiddleware(cfg.Admin.APIKey),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	// A request mid-payout finishes on its own context; keep redis open for it.
	select {
	case <-workerDone:
	case <-time.After(cfg.Redemption.SettleTimeout):
		log.Error("worker did not stop before settle timeout")
	}
	log.Info("shutdown complete")
	return nil
}
