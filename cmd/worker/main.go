// Package main runs the background job worker (poll results export to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quickpoll/backend/config"
	"github.com/quickpoll/backend/internal/polls"
	"github.com/quickpoll/backend/internal/worker"
	"github.com/quickpoll/backend/pkg/database"
	"github.com/quickpoll/backend/pkg/queue"
	"github.com/quickpoll/backend/pkg/redis"
	"github.com/quickpoll/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	if !s3Cfg.Enabled() {
		logger.Fatal("s3", zap.String("error", "AWS_REGION and AWS_S3_EXPORTS_BUCKET are required"))
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	// Reads only; nothing is published from the worker.
	pollService := polls.NewService(polls.NewRepository(pool), nil, polls.Limits{
		MinOptions: cfg.Polls.MinOptions,
		MaxOptions: cfg.Polls.MaxOptions,
		ListLimit:  cfg.Polls.ListLimit,
	}, logger)
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.RetryBackoff, logger)
	processor := worker.NewExportProcessor(pollService, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
