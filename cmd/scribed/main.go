package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"scribe/internal/broadcast"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/engine"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/upload"
	"scribe/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logCloser.Close() //nolint:errcheck

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return
	}

	hub := broadcast.NewHub(logger)
	uploads := upload.NewManager(store, cfg, logger)
	transcriber := engine.NewWhisperX(cfg, logger)
	pool := worker.NewPool(cfg, store, transcriber, hub, uploads, logger)

	d, err := daemon.New(cfg, store, pool, uploads, hub, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close() //nolint:errcheck
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}
	logger.Info("scribed listening", logging.String("addr", d.Addr()))

	<-ctx.Done()
	logger.Info("scribed shutting down")
}
