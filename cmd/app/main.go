package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/attribution/config"
	"github.com/Domenick1991/attribution/internal/bootstrap"
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrap.Run(gctx, cfg, components.Service, components.Checks, zl)
	})
	// In-memory state is invisible to a separate worker process.
	if cfg.Database.Driver == config.DriverMemory {
		g.Go(func() error {
			return components.Scheduler.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		zl.Error("server error", zap.Error(err))
	}

	zl.Info("waiting for in-flight notifications")
	components.Manager.Wait()
}
