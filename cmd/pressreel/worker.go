package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lthibault/jitterbug/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pressreel-worker/internal/collaborator"
	"pressreel-worker/internal/config"
	"pressreel-worker/internal/errpolicy"
	"pressreel-worker/internal/logging"
	"pressreel-worker/internal/media"
	"pressreel-worker/internal/pipeline"
	"pressreel-worker/internal/service"
	"pressreel-worker/internal/tempfiles"
	"pressreel-worker/internal/worker"
)

const requeueBatch = 100

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers for queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		_, undo := logging.Init(cfg.Service.LogLevel)
		defer undo()
		log := zap.S().Named("main")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Infow("worker config",
			"workers", cfg.Worker.Workers,
			"job_store", cfg.Database.JobStore,
			"storage", cfg.Storage.Backend,
			"redis_addr", cfg.Redis.Addr,
			"queue_key", cfg.Redis.QueueKey,
			"processing_key", cfg.Redis.ProcessingKey,
			"scratch_dir", cfg.Worker.ScratchDir,
		)

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
		queue := newQueue(rdb, cfg)

		temp, err := tempfiles.NewManager(cfg.Worker.ScratchDir)
		if err != nil {
			return err
		}
		temp.ReleaseAll()
		if n, err := temp.SweepOrphans(cfg.Worker.OrphanAge); err != nil {
			log.Warnw("startup sweep", "error", err)
		} else if n > 0 {
			log.Infow("removed leftover temp files", "count", n)
		}
		defer func() {
			if n := temp.ReleaseAll(); n > 0 {
				log.Infow("released temp files on shutdown", "count", n)
			}
		}()

		uploader, err := newUploader(ctx, cfg)
		if err != nil {
			return err
		}

		ff := media.New(cfg.Collaborators.FFmpegPath, cfg.Collaborators.FFprobePath)
		collabs := pipeline.Collaborators{
			Analyzer:    collaborator.NewAnalysisClient(cfg.Collaborators.AnalysisURL, cfg.Collaborators.APIKey, cfg.Collaborators.Timeout),
			Synthesizer: collaborator.NewSpeechClient(cfg.Collaborators.TTSURL, cfg.Collaborators.APIKey, cfg.Collaborators.Timeout),
			Media:       collaborator.NewStockMediaClient(cfg.Collaborators.StockMediaURL, cfg.Collaborators.APIKey, cfg.Collaborators.Timeout),
			Assembler:   ff,
			Uploader:    uploader,
			Prober:      ff,
			Thumbnailer: ff,
		}
		policy := errpolicy.Policy{
			MaxAttempts:    cfg.Worker.MaxAttempts,
			BaseDelay:      cfg.Worker.RetryBaseDelay,
			MaxDelay:       cfg.Worker.RetryMaxDelay,
			AttemptTimeout: cfg.Worker.StageTimeout,
		}

		orchestrator := pipeline.NewOrchestrator(store, temp, collabs, policy)
		processor := worker.NewProcessor(store, orchestrator)
		pool := worker.NewPool(queue, processor, cfg.Worker.Workers, cfg.Worker.Heartbeat)

		go runReaper(ctx, queue, cfg.Worker.ReaperInterval, cfg.Worker.VisibilityTimeout)
		go runSweeper(ctx, temp, cfg.Worker.ReaperInterval, cfg.Worker.OrphanAge)
		go serveMetrics(ctx, cfg.Worker.MetricsAddress)

		pool.Run(ctx)
		return nil
	},
}

// runReaper periodically hands claims without a recent heartbeat back to
// their queue (the worker holding them died).
func runReaper(ctx context.Context, queue service.Queue, interval, visibility time.Duration) {
	log := zap.S().Named("reaper")
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.RequeueStale(ctx, visibility, requeueBatch)
			if err != nil {
				if ctx.Err() == nil {
					log.Warnw("requeue stale claims", "error", err)
				}
				continue
			}
			if n > 0 {
				log.Infow("requeued stale jobs", "count", n)
			}
		}
	}
}

func runSweeper(ctx context.Context, temp *tempfiles.Manager, interval, olderThan time.Duration) {
	log := zap.S().Named("sweeper")
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := temp.SweepOrphans(olderThan)
			if err != nil {
				log.Warnw("sweep scratch dir", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("removed orphaned temp files", "count", n)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Named("metrics").Errorw("metrics server", "address", addr, "error", err)
	}
}
