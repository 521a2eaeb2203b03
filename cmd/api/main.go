package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-checkout/internal/checkout"
	"github.com/safar/go-checkout/internal/config"
	"github.com/safar/go-checkout/internal/database"
	"github.com/safar/go-checkout/internal/events"
	"github.com/safar/go-checkout/internal/httpapi"
	"github.com/safar/go-checkout/internal/metrics"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer rdb.Close()

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Service.Name)
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	service := checkout.NewService(db, logger, publisher, checkoutMetrics)

	handler := &httpapi.Handler{
		DB:       db,
		Checkout: service,
		Redis:    rdb,
		Auth:     &httpapi.SessionAuthenticator{DB: db},
		Logger:   logger,
		CacheTTL: cfg.Redis.OrderCacheTTL,
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(handler, registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
