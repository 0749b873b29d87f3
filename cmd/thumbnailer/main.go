package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/api/handlers/upload"
	"github.com/aliskhannn/thumbnailer/internal/api/router"
	"github.com/aliskhannn/thumbnailer/internal/api/server"
	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/dispatcher"
	"github.com/aliskhannn/thumbnailer/internal/logsink"
	"github.com/aliskhannn/thumbnailer/internal/processor"
	"github.com/aliskhannn/thumbnailer/internal/queue"
	kafkaqueue "github.com/aliskhannn/thumbnailer/internal/queue/kafka"
	"github.com/aliskhannn/thumbnailer/internal/queue/memory"
	redisqueue "github.com/aliskhannn/thumbnailer/internal/queue/redis"
	filerepo "github.com/aliskhannn/thumbnailer/internal/repository/file"
	uploadsvc "github.com/aliskhannn/thumbnailer/internal/service/upload"
	"github.com/aliskhannn/thumbnailer/internal/storage/file"
	"github.com/aliskhannn/thumbnailer/internal/worker"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Retry strategy for startup checks and Kafka calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Connect to the database and apply migrations.
	repo, err := filerepo.Open(ctx, cfg.Database, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	// Local storage for uploaded originals.
	local, err := file.NewLocal(cfg.Storage.Dir)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to prepare storage")
	}

	q, closeBackend, err := newQueue(ctx, cfg, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Str("backend", cfg.Queue.Backend).Msg("failed to connect to queue")
	}
	defer closeBackend()

	// The log sink must run before any worker starts.
	sink, err := logsink.Open(cfg.Log.Path, cfg.Log.Capacity)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open log sink")
	}

	thumbOpts := processor.Options{
		Width:     cfg.Thumbnail.Width,
		Height:    cfg.Thumbnail.Height,
		Watermark: cfg.Thumbnail.Watermark,
	}
	thumbnailer := processor.New(thumbOpts, nil)
	service := uploadsvc.NewService(local, repo, q, nil)

	// Optional bucket copy of every thumbnail.
	if cfg.Mirror.Enabled() {
		bucket, err := file.NewBucket(ctx, cfg.Mirror.Endpoint, cfg.Mirror.AccessKey, cfg.Mirror.SecretKey, cfg.Mirror.BucketName, cfg.Mirror.UseSSL)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to mirror bucket")
		}
		thumbnailer = processor.New(thumbOpts, bucket)
		service = uploadsvc.NewService(local, repo, q, bucket)
	}

	pool := worker.New(cfg.Workers.Count, q, thumbnailer, sink)
	handler := upload.NewHandler(service, cfg.Server.MaxUploadMB)
	srv := server.New(cfg.Server, router.Setup(handler))

	d := dispatcher.New(sink, q, pool, srv)
	if err := d.Start(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start")
	}

	zlog.Logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("queue", cfg.Queue.Backend).
		Int("workers", pool.Size()).
		Msg("thumbnailer started")

	// Block until a signal arrives or the HTTP server fails.
	select {
	case <-ctx.Done():
		zlog.Logger.Info().Msg("context done")
	case err := <-d.Errors():
		zlog.Logger.Error().Err(err).Msg("http server stopped")
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("shutdown finished with errors")
	}
}

// newQueue builds the configured queue backend. The returned func releases
// the backend client and must run after the workers have stopped.
func newQueue(ctx context.Context, cfg *config.Config, s retry.Strategy) (queue.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case config.BackendMemory:
		return memory.New(cfg.Queue.Capacity), func() {}, nil

	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.Queue.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)

		err = retry.Do(func() error {
			return client.Ping(ctx).Err()
		}, s)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}

		q := redisqueue.New(client, redisqueue.Options{
			Key:          cfg.Queue.Redis.Key,
			PollInterval: cfg.Queue.Redis.PollInterval,
		})
		return q, func() {
			if err := client.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close redis client")
			}
		}, nil

	case config.BackendKafka:
		// Close on the queue releases both kafka clients.
		return kafkaqueue.New(&cfg.Queue.Kafka, s), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
