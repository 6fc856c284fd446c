package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/config"
	kafkax "github.com/darktidesresearch/storefront/internal/kafka"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/notify"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.Server.ServiceName + "-notifier"
	log := logging.MustNewLogger(service, cfg.Server.AppEnv, cfg.Logger.Level, cfg.Logger.Encoding)
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateNotifier(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Email.OrderNotify == "" {
		log.Warn("ORDER_NOTIFY_EMAIL not set, operator emails are skipped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dispatcher := notify.NewDispatcher(
		notify.NewResendClient(cfg.Email.APIURL, cfg.Email.APIKey, nil),
		rdb,
		notify.Options{From: cfg.Email.From, OrderNotify: cfg.Email.OrderNotify},
		log, m,
	)

	// Consumer
	topics := []string{orders.TopicOrderPlaced, orders.TopicPaymentConfirmed, orders.TopicContactSubmitted}
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.NotifierGroup, topics, cfg.Kafka.NotifierWorkers, log)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("notifier consumer started",
			zap.String("group", cfg.Kafka.NotifierGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", cfg.Kafka.NotifierWorkers))
		if err := cons.Start(ctx, dispatcher.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Kafka.NotifierMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listen", zap.Error(err))
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
