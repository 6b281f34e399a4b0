package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"schoolattendance/internal/config"
	"schoolattendance/internal/logging"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

// Worker consumes notification messages, stores them for the notification
// center and forwards them to the configured webhook.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production())
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		return errors.New("QUEUE_BACKEND=memory is delivered inside the api process; the worker needs redis")
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var fwd notify.Forwarder
	if c := notify.NewWebhookClient(cfg.WebhookURL); c != nil {
		fwd = c
		logger.Info("forwarding notifications", zap.String("webhook", cfg.WebhookURL))
	}
	worker := notify.NewWorker(notify.NewRepository(db.Client), fwd, logger.Named("worker"))

	g, gctx := errgroup.WithContext(ctx)

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	messages, err := q.Consume(gctx)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("worker started, waiting for messages", zap.String("queue", cfg.QueueKey))
		worker.Run(gctx, messages)
		logger.Info("worker stopped")
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
