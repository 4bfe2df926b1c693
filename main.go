package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"foliochat/internal/api"
	"foliochat/internal/auth"
	"foliochat/internal/config"
	"foliochat/internal/models"
	"foliochat/internal/ratelimit"
	"foliochat/internal/redis"
	"foliochat/internal/service/ai"
	"foliochat/internal/service/assistant"
	"foliochat/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("FOLIOCHAT_CONFIG"))
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		tokenStore auth.TokenStore
		limiter    ratelimit.Limiter
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		tokenStore = auth.NewRedisTokenStore(rdb)
		if cfg.RateLimit.Requests > 0 {
			limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window())
		}
		logger.WithField("host", cfg.Redis.Host).Info("using redis for tokens and rate limits")
	} else {
		tokenStore = auth.NewMemoryTokenStore()
		if cfg.RateLimit.Requests > 0 {
			memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())
			memLimiter.StartCleanup(ctx)
			limiter = memLimiter
		}
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.Worker.MinWorkers,
		MaxWorkers:        cfg.Worker.MaxWorkers,
		QueueSize:         cfg.Worker.QueueSize,
		WorkerIdleTimeout: cfg.Worker.IdleTimeout(),
	}, logger)
	defer dispatcher.Stop()

	authService := auth.NewService(tokenStore, cfg.BasicConfig.SessionTTL())
	client := ai.NewClient(&http.Client{}, logger)
	assistantService := assistant.NewService(assistant.Options{
		Prober: ai.NewProber(client, cfg.BasicConfig.ProbeTimeout()),
		NewModel: func(ctx context.Context, endpoint models.EndpointConfig) (model.BaseChatModel, error) {
			return ai.NewChatModel(ctx, endpoint, client)
		},
		Executor: dispatcher,
		Logger:   logger,
		ContextPolicy: ai.ContextPolicy{
			MaxTurns: cfg.BasicConfig.ContextMaxTurns,
			MaxChars: cfg.BasicConfig.ContextMaxChars,
		},
		RequestTimeout: cfg.BasicConfig.RequestTimeout(),
		SessionTTL:     cfg.BasicConfig.SessionTTL(),
		MaxSessions:    cfg.BasicConfig.MaxSessions,
		DefaultConfig:  cfg.DefaultEndpointConfig(),
		DefaultLocale:  strings.ToLower(cfg.BasicConfig.Locale),
		OnSessionClosed: func(id string) {
			revokeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := authService.RevokeSession(revokeCtx, id); err != nil {
				logger.WithError(err).WithField("session", id).Warn("revoke session tokens")
			}
		},
	})
	assistantService.StartSessionReaper(ctx, cfg.BasicConfig.ReapInterval())

	handlers := api.NewHandler(assistantService, authService, limiter, logger, cfg.Chat.Models)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(logger))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     srv.Addr,
		"provider": cfg.Chat.Provider,
		"model":    cfg.Chat.Model,
	}).Info("foliochat listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server stopped: %v", err)
	}
}
