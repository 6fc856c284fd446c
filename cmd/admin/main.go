package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/backoffice"
	"github.com/darktidesresearch/storefront/internal/catalog"
	"github.com/darktidesresearch/storefront/internal/config"
	kafkax "github.com/darktidesresearch/storefront/internal/kafka"
	"github.com/darktidesresearch/storefront/internal/logging"
	"github.com/darktidesresearch/storefront/internal/orders"
	"github.com/darktidesresearch/storefront/internal/payment"
	"github.com/darktidesresearch/storefront/internal/postgres"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

// app holds the connections a command needs. They are opened on first use so
// `--help` works without a database.
type app struct {
	cfg *config.Config
	log *zap.Logger

	pool   *pgxpool.Pool
	rdb    *redisx.Client
	prod   *kafkax.Producer
	cancel context.CancelFunc

	catalog *catalog.AdminRepo
	office  *backoffice.Service
}

func (a *app) open(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	pool, err := postgres.Connect(ctx, a.cfg.Postgres.DSN, 2)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool
	a.catalog = catalog.NewAdminRepo(catalog.OpenFromPool(pool))

	a.rdb = redisx.New(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err := a.rdb.Ping(ctx); err != nil {
		a.log.Warn("redis unreachable, status cache not invalidated", zap.Error(err))
	}

	pctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.prod = kafkax.NewProducer(a.cfg.Kafka.Brokers, 64, a.log)
	a.prod.Start(pctx)

	repo := &orders.Repo{DB: pool}
	webhooks := payment.NewWebhookService(repo, a.rdb, a.prod, a.cfg.Server.ServiceName+"-admin", a.log, nil)
	a.office = backoffice.NewService(repo, webhooks, a.rdb, a.log)
	return nil
}

func (a *app) close() {
	if a.prod != nil {
		a.prod.Close()
		a.prod.WaitClosed()
		a.cancel()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront-admin",
		Short:         "Manage the DarkTidesResearch catalog, discount codes and orders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.AddCommand(productsCmd(a), discountsCmd(a), ordersCmd(a), interactiveCmd(a))
	return root
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logging.NewLogger(cfg.Server.ServiceName+"-admin", cfg.Server.AppEnv, "warn", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	a := &app{cfg: cfg, log: log}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = newRootCmd(a).ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
