package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolattendance/internal/api"
	"schoolattendance/internal/attendance"
	"schoolattendance/internal/audit"
	"schoolattendance/internal/auth"
	"schoolattendance/internal/config"
	"schoolattendance/internal/logging"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Production())
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.NewDB(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(startCtx); err != nil {
		return err
	}

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	if !redisClient.Healthy(startCtx) {
		logger.Warn("redis not reachable, scans will run without the pair lock", zap.String("addr", cfg.RedisAddr))
	}

	notifications := notify.NewRepository(db.Client)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		q = mem
		// Nothing else can drain an in-process queue, so deliver here.
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go newDeliveryWorker(cfg, notifications, logger).Run(ctx, msgs)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	notifier := notify.New(q, notifications, logger.Named("notify"), notify.Options{
		IncludeAdmins: cfg.NotifyAdmins,
	})

	repo := attendance.NewRepository(db.Client)
	loc := cfg.Location()
	svc := attendance.NewService(repo, logger.Named("attendance"), attendance.Options{
		Cooldown: cfg.ScanCooldown,
		LockTTL:  cfg.ScanLockTTL,
		Location: loc,
		Locker:   attendance.NewRedisLock(redisClient.Client),
		Notifier: notifier,
	})
	auditor := audit.New(repo, notifier, loc, logger.Named("audit"))

	handler := api.New(api.Deps{
		Recorder:  svc,
		Logs:      repo,
		Auditor:   auditor,
		Terminals: auth.NewRepository(db.Client),
		Checks: map[string]api.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
	}, api.Config{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		EnrollKey:       cfg.EnrollKey,
		AccessTTL:       cfg.AccessTTL,
		RefreshTTL:      cfg.RefreshTTL,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Location:        loc,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("queue", cfg.QueueBackend),
			zap.String("timezone", loc.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	svc.Wait()
	logger.Info("server exited")
	return nil
}

func newDeliveryWorker(cfg config.App, sink notify.Sink, logger *zap.Logger) *notify.Worker {
	var fwd notify.Forwarder
	if c := notify.NewWebhookClient(cfg.WebhookURL); c != nil {
		fwd = c
	}
	return notify.NewWorker(sink, fwd, logger.Named("worker"))
}

