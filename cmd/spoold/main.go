// Command spoold runs the publication daemon: the worker pool, the batch
// pipeline stages, and the HTTP status API, guarded by a single-instance
// lock.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"spool/internal/config"
	"spool/internal/daemon"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewForDaemon(cfg.Logging.Level, cfg.Logging.Format, cfg.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	stages, err := buildPipeline(cfg, store, logger)
	if err != nil {
		logger.Error("assemble pipeline", logging.Error(err))
		store.Close()
		return
	}

	manager := workflow.NewManager(cfg, store, stages, logger)
	d, err := daemon.New(cfg, store, logger, manager, stages)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}
	if addr := d.Addr(); addr != "" {
		logger.Info("status api available", logging.String("address", addr))
	}

	<-ctx.Done()
	logger.Info("spoold shutting down")
}
