package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/lumenfund/giving-backend/internal/receipts"
	"github.com/lumenfund/giving-backend/pkg/config"
	"github.com/lumenfund/giving-backend/pkg/events/idempotency"
	"github.com/lumenfund/giving-backend/pkg/logger"
	"github.com/lumenfund/giving-backend/pkg/pubsub"
	"github.com/lumenfund/giving-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "receipt-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "receipt-worker"

	logg = logger.New(logger.Options{
		ServiceName: "receipt-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	mailer, err := receipts.NewSMTPMailer(cfg.SMTP)
	requireResource(ctx, logg, "smtp mailer", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ReceiptIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	consumer, err := receipts.NewConsumer(mailer, pubsubClient.ReceiptsSubscription(), manager, logg)
	requireResource(ctx, logg, "receipt consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
	})
	logg.Info(runCtx, "receipt worker ready")

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "receipt worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
