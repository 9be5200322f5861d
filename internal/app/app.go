// Package app assembles the service's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"tutormarket/internal/config"
	"tutormarket/internal/lifecycle"
	"tutormarket/internal/messaging"
	"tutormarket/internal/metrics"
	"tutormarket/internal/payment"
	"tutormarket/internal/queue"
	"tutormarket/internal/reconcile"
	"tutormarket/internal/store"
	"tutormarket/internal/store/memory"
	"tutormarket/internal/store/postgres"
)

// App holds the wired components shared by the API and worker binaries.
type App struct {
	Config   config.App
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    store.Store
	Redis    *store.Redis
	Queue    queue.Queue
	Payments payment.Gateway
	Engine   *lifecycle.Engine
	Chat     *messaging.Gateway

	closers []func() error
}

// Build connects backends selected by cfg and wires the engine and chat
// gateway. Close releases everything Build opened.
func Build(ctx context.Context, cfg config.App, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.QueueBackend == "redis" || cfg.BroadcastBackend == "redis" {
		a.Redis = store.NewRedis(cfg.RedisAddr)
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx); err != nil {
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
	}

	switch cfg.QueueBackend {
	case "memory":
		a.Queue = queue.NewInMemory(256)
	case "redis":
		a.Queue = queue.NewRedisQueue(a.Redis.Client, "tutormarket:jobs", logger)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	var bus messaging.Broadcaster
	switch cfg.BroadcastBackend {
	case "memory":
		bus = messaging.NewMemoryBroadcaster()
	case "redis":
		bus = messaging.NewRedisBroadcaster(a.Redis.Client, logger)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown BROADCAST_BACKEND %q", cfg.BroadcastBackend)
	}

	switch cfg.PaymentBackend {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			a.Close()
			return nil, errors.New("PAYMENT_BACKEND=stripe needs STRIPE_SECRET_KEY")
		}
		a.Payments = payment.NewStripe(cfg.StripeSecretKey)
	case "fake":
		if cfg.Production() {
			a.Close()
			return nil, errors.New("the fake payment gateway is not allowed in production")
		}
		a.Payments = payment.NewFake(true)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown PAYMENT_BACKEND %q", cfg.PaymentBackend)
	}

	a.Chat = messaging.NewGateway(a.Store, bus,
		messaging.WithLogger(logger.Named("chat")),
		messaging.WithMetrics(a.Metrics),
	)
	a.Engine = lifecycle.New(a.Store, a.Payments,
		lifecycle.WithLogger(logger.Named("lifecycle")),
		lifecycle.WithMetrics(a.Metrics),
		lifecycle.WithNotifier(a.Chat),
		lifecycle.WithRetrier(reconcile.NewRetrier(a.Queue)),
		lifecycle.WithPendingTTL(cfg.PaymentPendingTTL),
		lifecycle.WithCurrency(cfg.PaymentCurrency),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case "memory":
		a.Store = memory.New()
		a.Logger.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		pg, err := postgres.Open(ctx, a.Config.DatabaseURL, a.Logger.Named("postgres"))
		if err != nil {
			return err
		}
		a.Store = pg
		if a.Config.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return err
			}
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", a.Config.StoreBackend)
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

// Worker returns a reconcile worker over the app's queue and engine.
func (a *App) Worker() *reconcile.Worker {
	return reconcile.NewWorker(a.Engine, a.Queue,
		reconcile.WithLogger(a.Logger.Named("reconcile")),
		reconcile.WithMetrics(a.Metrics),
	)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	if a.Chat != nil {
		a.Chat.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
