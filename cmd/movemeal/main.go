// Package main запускает HTTP-сервер координатора совместных заказов и поездок.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/config"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/handler"
	"github.com/rajpalom13/move-meal-sub000/internal/locker"
	"github.com/rajpalom13/move-meal-sub000/internal/middleware"
	"github.com/rajpalom13/move-meal-sub000/internal/notify"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
	"github.com/rajpalom13/move-meal-sub000/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
	}

	var lock locker.Locker = locker.NewLocal(cfg.LockTimeout)
	if rdb != nil {
		lock = locker.NewRedis(rdb, locker.RedisOptions{TTL: cfg.LockTTL, Wait: cfg.LockTimeout}, logger)
		sugar.Infow("using redis cluster locks", "addr", cfg.RedisAddr)
	}

	hub := notify.NewHub()
	sinks := []notify.Sink{notify.NewLogSink(logger), hub}
	if cfg.AMQPURL != "" {
		amqpSink := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	if cfg.SendGridAPIKey != "" {
		sinks = append(sinks, notify.NewMailSink(notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom), repo))
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}, logger, sinks...)

	opts := service.Options{
		Locker:          lock,
		Notifier:        dispatcher,
		Codes:           cluster.NewRandomCodes(cfg.CodeLength),
		MutationRetries: cfg.MutationRetries,
		Logger:          logger,
	}
	if cfg.GeoSearchAddress != "" {
		opts.Geo = geo.NewClient(cfg.GeoSearchAddress)
	}

	svc := service.NewService(repo, opts)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, cfg.TokenTTL)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, tokens will not survive a restart")
	}

	h := handler.NewHandler(svc, logger, authMiddleware, handler.Config{
		CodeLength: cfg.CodeLength,
		Events:     hub,
		Limiter:    middleware.NewRateLimiter(rateLimitConfig(cfg.RateLimit), rdb, logger),
		Metrics:    promhttp.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Доставка событий подписчикам
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting movemeal server", "addr", cfg.RunAddress, "sinks", len(sinks))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func rateLimitConfig(c config.RateLimit) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Enabled:        c.Enabled,
		Prefix:         c.Prefix,
		Capacity:       c.Capacity,
		RefillTokens:   c.RefillTokens,
		RefillInterval: c.RefillInterval,
		TTL:            c.TTL,
		KeyStrategy:    c.KeyStrategy,
	}
}
