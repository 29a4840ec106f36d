package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eventrhq/eventr/internal/alert"
	"github.com/eventrhq/eventr/internal/api"
	"github.com/eventrhq/eventr/internal/config"
	"github.com/eventrhq/eventr/internal/db"
	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/dispatch"
	"github.com/eventrhq/eventr/internal/health"
	"github.com/eventrhq/eventr/internal/logging"
	"github.com/eventrhq/eventr/internal/metrics"
	"github.com/eventrhq/eventr/internal/outbox"
	"github.com/eventrhq/eventr/internal/storage/memory"
	"github.com/eventrhq/eventr/internal/storage/postgres"
	"github.com/eventrhq/eventr/internal/subscription"
	"github.com/eventrhq/eventr/internal/tracing"
)

// stores groups the one backing store seen through each consumer interface.
type stores struct {
	events        api.EventStore
	outbox        outbox.Store
	subscriptions subscription.Store
	subState      delivery.SubscriptionState
	queue         delivery.Store
	attempts      dispatch.AttemptStore
	ledger        api.Ledger
	pinger        health.Pinger
}

func main() {
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.AppName)

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdownTracing()

	st, closeStore := openStores(ctx, cfg, logger)
	defer closeStore()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	alerts, stopAlerts := openAlerts(cfg, logger)
	defer stopAlerts()

	registry := subscription.NewRegistry(st.subscriptions, cfg.Production())
	dispatcher := dispatch.NewDispatcher(registry, st.attempts, logger)
	poller := outbox.NewPoller(st.outbox, dispatcher, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	sched := delivery.NewScheduler(cfg.Webhook.BaseDelay, cfg.Webhook.MaxDelay, cfg.Webhook.MaxAttempts)
	sender := delivery.NewSender(cfg.Webhook.HTTPTimeout, cfg.Webhook.PerSubscriptionInflight)
	pool := delivery.NewPool(st.queue, st.subState, sched, sender, alerts, logger, delivery.PoolOptions{
		Workers:                      cfg.Webhook.WorkerCount,
		PollInterval:                 cfg.Webhook.PollInterval,
		FailureDeactivationThreshold: cfg.Webhook.FailureDeactivationThreshold,
		PerSubscriptionInflight:      cfg.Webhook.PerSubscriptionInflight,
	})

	go poller.Run(ctx)
	go pool.Run(ctx)

	handlers := api.NewHandlers(registry, dispatcher, st.events, st.ledger, logger, !cfg.Production())
	srv := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: api.NewRouter(handlers, st.pinger, reg),
	}
	go func() {
		logger.Plain().WithField("addr", srv.Addr).Info("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Plain().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Error("http shutdown failed")
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *logging.Logger) (stores, func()) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Plain().Warn("using in-memory store, data will not survive a restart")
		mem := memory.NewStore()
		return stores{
			events:        mem,
			outbox:        mem,
			subscriptions: mem,
			subState:      mem,
			queue:         mem,
			attempts:      mem,
			ledger:        mem,
		}, func() {}
	case "postgres":
		if err := postgres.MigrateUp(cfg.DSN()); err != nil {
			logger.Plain().WithError(err).Fatal("migrations failed")
		}
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		pg := postgres.NewStore(pool)
		return stores{
			events:        pg,
			outbox:        pg,
			subscriptions: pg,
			subState:      pg,
			queue:         pg,
			attempts:      pg,
			ledger:        pg,
			pinger:        pool,
		}, pool.Close
	default:
		logger.Plain().WithField("driver", cfg.StoreDriver).Fatal("unknown store driver")
		os.Exit(1)
		return stores{}, nil
	}
}

func openAlerts(cfg config.Config, logger *logging.Logger) (alert.Publisher, func()) {
	if cfg.NSQ.NsqdTCPAddr == "" {
		return alert.Nop{}, func() {}
	}
	pub, err := alert.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic, cfg.NSQ.AlertsTopic)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	logger.Plain().WithField("nsqd", cfg.NSQ.NsqdTCPAddr).Info("alert publishing enabled")
	return pub, pub.Stop
}
