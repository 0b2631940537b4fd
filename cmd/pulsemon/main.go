package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pulsemon/api"
	"pulsemon/config"
	"pulsemon/core/history"
	"pulsemon/core/logging"
	"pulsemon/core/monitoring"
	"pulsemon/core/probe"
	"pulsemon/core/schedule"
	"pulsemon/core/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "pulsemon.yml", "path to config file")
	flag.Parse()
	os.Exit(run(configPath))
}

func run(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Error("open database", zap.Error(err))
		return 1
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.ApplyMigrations(ctx, db, cfg.DB.Driver, logger); err != nil {
		logger.Error("apply migrations", zap.Error(err))
		return 1
	}

	st := store.New(db, cfg.DB.Driver)
	queue := store.NewQueue(db, cfg.DB.Driver)
	registry := probe.NewRegistry(cfg.Probes)
	oracle := monitoring.NewOracle(st, logger)
	runner := monitoring.NewRunner(registry, cfg.Probes, logger)
	detector := monitoring.NewDetector(st, oracle, monitoring.NewLogSink(logger), cfg.Detector, logger)
	scheduler := schedule.New(queue, st, runner, detector, cfg.Scheduler, logger)
	aggregator := history.NewAggregator(st, cfg.Data, logger)
	server := api.New(cfg, st, queue, detector, oracle, aggregator, logger)

	app := &application{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		oracle:    oracle,
		scheduler: scheduler,
		logger:    logger,
	}
	if err := app.applyMonitors(ctx, cfg.MonitorsPath); err != nil {
		logger.Error("load monitors", zap.String("path", cfg.MonitorsPath), zap.Error(err))
		return 1
	}

	scheduler.Start()
	if err := aggregator.Start(ctx); err != nil {
		logger.Error("start aggregator", zap.Error(err))
		_ = scheduler.Stop()
		return 1
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	exitCode := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serverErr:
			if err != nil {
				logger.Error("api server failed", zap.Error(err))
				exitCode = 1
			}
			break loop
		case <-hup:
			logger.Info("reload requested")
			if err := app.applyMonitors(context.Background(), cfg.MonitorsPath); err != nil {
				logger.Error("reload rejected, previous monitor list stays active", zap.Error(err))
			}
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.DrainGrace())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	if err := scheduler.StopWithContext(shutdownCtx); err != nil {
		logger.Warn("scheduler drain incomplete", zap.Error(err))
	}
	aggregator.Stop()
	logger.Info("shutdown complete")
	return exitCode
}
