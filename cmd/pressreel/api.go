package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "pressreel-worker/docs"
	"pressreel-worker/internal/config"
	"pressreel-worker/internal/logging"
	"pressreel-worker/internal/service"
	httptransport "pressreel-worker/internal/transport/http"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the job submission API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		_, undo := logging.Init(cfg.Service.LogLevel)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		store, closeStore, err := newJobStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		rdb, err := newRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()

		svc := service.NewJobService(store, newQueue(rdb, cfg))
		srv := &http.Server{
			Addr:              cfg.Service.Address,
			Handler:           httptransport.Routes(httptransport.NewHandler(svc), cfg.Service.CorsOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.S().Infow("listening", "address", cfg.Service.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	},
}
