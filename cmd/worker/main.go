package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/attribution/config"
	"github.com/Domenick1991/attribution/internal/bootstrap"
	"github.com/Domenick1991/attribution/internal/email"
	"github.com/Domenick1991/attribution/internal/kafka"
	"github.com/Domenick1991/attribution/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("build components", zap.Error(err))
	}
	defer components.Close()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, zl.Named("consumer"))
	defer consumer.Close()

	emailSender := email.NewSender(zl.Named("email"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.ConsumeOffers(gctx, emailSender.Send)
	})
	g.Go(func() error {
		return components.Scheduler.Run(gctx)
	})

	zl.Info("worker started",
		zap.Duration("escalation_interval", cfg.Worker.EscalationInterval()),
		zap.Duration("round_timeout", cfg.Attribution.RoundTimeout()))

	if err := g.Wait(); err != nil {
		zl.Error("worker stopped", zap.Error(err))
	}

	components.Manager.Wait()
	zl.Info("worker shut down")
}
