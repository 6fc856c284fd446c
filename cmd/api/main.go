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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/backoffice"
	"github.com/darktidesresearch/storefront/internal/checkout"
	"github.com/darktidesresearch/storefront/internal/config"
	"github.com/darktidesresearch/storefront/internal/contact"
	"github.com/darktidesresearch/storefront/internal/discount"
	"github.com/darktidesresearch/storefront/internal/httpx"
	"github.com/darktidesresearch/storefront/internal/inventory"
	kafkax "github.com/darktidesresearch/storefront/internal/kafka"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/payment"
	"github.com/darktidesresearch/storefront/internal/postgres"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

// shutdownTimeout outlasts the per-request timeout so in-flight handlers
// finish before the producer stops taking messages.
const shutdownTimeout = httpx.HandlerTimeout + 5*time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNewLogger(cfg.Server.ServiceName, cfg.Server.AppEnv, cfg.Logger.Level, cfg.Logger.Encoding)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		// Redis only holds shortcuts; run without it rather than not at all
		log.Warn("redis unreachable", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, 1024, log)
	prod.Start(ctx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repos & services
	repo := &orders.Repo{DB: db}
	holds := &orders.ReservationRepo{DB: db}
	inv := inventory.NewService(repo, holds, cfg.Inventory.ReservationTTL, log, m)
	discounts := discount.NewValidator(repo, log)
	charges := payment.NewClient(cfg.Coinbase.APIURL, cfg.Coinbase.APIKey, nil)
	co := checkout.NewService(repo, inv, discounts, charges, rdb, prod, checkout.Options{
		Producer:    cfg.Server.ServiceName,
		VenmoHandle: cfg.Venmo.Handle,
		Shipping: checkout.ShippingPolicy{
			FlatRate:      cfg.Shipping.FlatRate,
			FreeThreshold: cfg.Shipping.FreeThreshold,
		},
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, log, m)
	webhooks := payment.NewWebhookService(repo, rdb, prod, cfg.Server.ServiceName, log, m)
	admin := backoffice.NewService(repo, webhooks, rdb, log)

	// Handlers
	router := httpx.NewRouter(log, m, reg)
	(&httpx.StorefrontHandler{
		Products:  repo,
		Inventory: inv,
		Discounts: discounts,
		Contact:   contact.NewService(prod, cfg.Server.ServiceName, log),
		Log:       log,
	}).Register(router)
	(&httpx.OrdersHandler{Checkout: co, Log: log}).Register(router)
	(&httpx.WebhookHandler{Secret: cfg.Coinbase.WebhookSecret, Service: webhooks, Log: log}).Register(router)
	(&httpx.AdminHandler{Token: cfg.Server.AdminToken, Service: admin, Log: log}).Register(router)

	// Reservation sweeper
	sweepDone := make(chan struct{})
	if cfg.Inventory.SweeperEnabled {
		sweeper := inventory.NewSweeper(holds, rdb, cfg.Inventory.SweepInterval, log, m)
		go func() {
			defer close(sweepDone)
			sweeper.Run(ctx)
		}()
	} else {
		close(sweepDone)
	}

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		// handlers may still publish; the producer drops those after Close
		log.Error("http shutdown", zap.Error(err))
	}
	prod.Close() // stop intake, flush and close the writer
	cancel()     // stop the producer loop and the sweeper
	prod.WaitClosed()
	<-sweepDone
}
