package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pressreel-worker/internal/config"
	"pressreel-worker/internal/pipeline"
	"pressreel-worker/internal/repository/postgresql"
	"pressreel-worker/internal/repository/supabase"
	"pressreel-worker/internal/service"
	"pressreel-worker/internal/storage"
)

// jobStore is what both the API and the workers need from the record store.
type jobStore interface {
	service.JobRepository
	pipeline.JobStore
}

// newJobStore opens the store selected by JOB_STORE. The returned func
// releases its connections.
func newJobStore(ctx context.Context, cfg *config.Config) (jobStore, func(), error) {
	switch cfg.Database.JobStore {
	case "supabase":
		client, err := supabase.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, nil, err
		}
		zap.S().Infow("using supabase job store", "url", cfg.Supabase.URL, "table", cfg.Supabase.JobsTable)
		return supabase.NewJobRepository(client, cfg.Supabase.JobsTable), func() {}, nil
	default:
		pool, err := postgresql.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("pg: %w", err)
		}
		zap.S().Infow("using postgres job store", "dsn", config.RedactDSN(cfg.Database.DSN))
		return postgresql.NewJobRepository(pool), pool.Close, nil
	}
}

func newRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, nil
}

func newQueue(rdb *redis.Client, cfg *config.Config) service.Queue {
	keys := service.DefaultQueueKeys(cfg.Redis.QueueKey, cfg.Redis.ProcessingKey)
	keys.ProcessingMapKey = cfg.ProcessingMapKey()
	return service.NewRedisPriorityQueue(rdb, keys)
}

// newUploader builds the durable storage selected by STORAGE_BACKEND.
func newUploader(ctx context.Context, cfg *config.Config) (pipeline.Uploader, error) {
	switch cfg.Storage.Backend {
	case "supabase":
		return storage.NewSupabaseUploader(cfg.Supabase.URL, cfg.Supabase.ServiceKey, cfg.Supabase.Bucket)
	default:
		u, err := storage.NewMinioUploader(
			storage.WithEndpoint(cfg.Storage.MinioEndpoint),
			storage.WithBucket(cfg.Storage.MinioBucket),
			storage.WithAccessKey(cfg.Storage.MinioAccessKey),
			storage.WithSecretKey(cfg.Storage.MinioSecretKey),
			storage.WithSSL(cfg.Storage.MinioUseSSL),
			storage.WithRegion(cfg.Storage.MinioRegion),
			storage.WithPublicBaseURL(cfg.Storage.PublicBaseURL),
		)
		if err != nil {
			return nil, err
		}
		if err := u.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return u, nil
	}
}
