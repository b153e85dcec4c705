// Package main runs the QuickPoll HTTP server with live WebSocket views and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quickpoll/backend/config"
	"github.com/quickpoll/backend/internal/auth"
	"github.com/quickpoll/backend/internal/changefeed"
	"github.com/quickpoll/backend/internal/exports"
	"github.com/quickpoll/backend/internal/middleware"
	"github.com/quickpoll/backend/internal/polls"
	"github.com/quickpoll/backend/internal/reactions"
	"github.com/quickpoll/backend/internal/realtime"
	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/internal/worker"
	"github.com/quickpoll/backend/pkg/database"
	"github.com/quickpoll/backend/pkg/queue"
	"github.com/quickpoll/backend/pkg/redis"
	"github.com/quickpoll/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	if s3Cfg.Enabled() {
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Sessions
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	sessions := session.NewProvider(jwtService, session.NewRedisRevocations(rdb.Client), logger)

	// Change feed
	hub := changefeed.NewHub(logger)
	source, publisher := newChangeFeed(cfg, pool, rdb, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, sessions, logger)

	// Polls
	pollRepo := polls.NewRepository(pool)
	pollService := polls.NewService(pollRepo, publisher, polls.Limits{
		MinOptions: cfg.Polls.MinOptions,
		MaxOptions: cfg.Polls.MaxOptions,
		ListLimit:  cfg.Polls.ListLimit,
	}, logger)
	pollHandler := polls.NewHandler(pollService, logger)

	// Votes and likes
	reconciler := reactions.NewReconciler(reactions.NewRepository(pool), publisher, logger)
	reactionHandler := reactions.NewHandler(reconciler, logger)

	// Results export
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.RetryBackoff, logger)
	var signer exports.Signer
	if s3Client != nil {
		signer = s3Client
	}
	exportHandler := exports.NewHandler(pollService, jobQueue, signer, logger)

	// Live views
	wsHandler := realtime.NewHandler(sessions, reconciler, hub, pollService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "live_views": wsHandler.Count(), "subscriptions": hub.Count()})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.GET("/session", middleware.RequireSession(sessions), authHandler.Session)
		authGroup.POST("/logout", middleware.RequireSession(sessions), authHandler.Logout)
	}

	// Reads (session optional; used for my vote / liked by me)
	public := router.Group("")
	public.Use(middleware.OptionalSession(sessions))
	{
		public.GET("/polls", pollHandler.List)
		public.GET("/polls/:id", pollHandler.Get)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.RequireSession(sessions))
	{
		api.POST("/polls", pollHandler.Create)
		api.POST("/polls/:id/vote", reactionHandler.Vote)
		api.POST("/polls/:id/like", reactionHandler.Like)
		api.POST("/polls/:id/exports", exportHandler.Create)
		api.GET("/polls/:id/exports/url", exportHandler.URL)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", wsHandler.ServeWs)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go func() {
		if err := hub.Run(bgCtx, source); err != nil {
			logger.Error("changefeed stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := sessions.WatchRemote(bgCtx); err != nil {
			logger.Error("sign-out watcher stopped", zap.Error(err))
		}
	}()

	// Background worker (results export to S3)
	if s3Client != nil && cfg.Worker.InProcess {
		processor := worker.NewExportProcessor(pollService, s3Client, jobQueue, logger)
		go processor.Run(bgCtx)
		logger.Info("export worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("changefeed", cfg.ChangeFeed.Source))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newChangeFeed picks where change events come from. With Postgres the triggers
// emit them, so writers publish nothing; with Redis the writers publish.
func newChangeFeed(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *zap.Logger) (changefeed.Source, changefeed.Publisher) {
	if cfg.ChangeFeed.Source == config.ChangeFeedRedis {
		ps := changefeed.NewRedisPubSub(rdb.Client, cfg.ChangeFeed.RedisChannel, logger)
		return ps, ps
	}
	return changefeed.NewPGListener(pool, logger), changefeed.NopPublisher{}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
