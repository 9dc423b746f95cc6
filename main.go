package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"lcktree/config"
	"lcktree/db"
	lhttp "lcktree/http"
	"lcktree/logger"
	"lcktree/monitoring"
	"lcktree/pipeline"
	"lcktree/training"
)

func main() {
	configPath := flag.String("config", config.Find(), "config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	// 2. Initialize database
	if err := db.InitDB(cfg.Database.Path, cfg.Database.EnableWAL); err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Events hub
	hub := monitoring.NewHub(log.Named("ws"))
	go hub.Run()
	defer hub.Stop()

	// 4. Load the dataset and train the first model
	trainer := training.NewTrainer(pipeline.NewLoader(cfg.Dataset.LoaderConfig, log.Named("loader")), training.Options{
		MaxDepth:      &cfg.Model.MaxDepth,
		TrainRatio:    cfg.Model.TrainRatio,
		Seed:          cfg.Model.Seed,
		ParallelDepth: cfg.Model.ParallelDepth,
	}, log.Named("trainer"))
	trainer.SetPublisher(hub)
	trainer.OnModelSwap(lhttp.InvalidateCache)

	metrics := monitoring.NewMetricsCollector()
	metrics.Describe("model_accuracy", "Test accuracy of the served model")
	metrics.Describe("trainings_total", "Successful training runs")
	trainer.OnModelSwap(func() {
		report := trainer.LastReport()
		metrics.IncrCounter("trainings_total", 1, nil)
		metrics.SetGauge("model_accuracy", report.Evaluation.Accuracy, nil)
		metrics.SetGauge("model_leaves", float64(report.Leaves), nil)
		metrics.SetGauge("model_depth", float64(report.Depth), nil)
	})

	if err := trainer.LoadDataset(); err != nil {
		log.Fatal("failed to load dataset", zap.String("path", cfg.Dataset.Path), zap.Error(err))
	}
	if _, err := trainer.Train(ctx, training.Options{}); err != nil {
		log.Fatal("initial training failed", zap.Error(err))
	}

	if err := lhttp.SetPredictionCache(cfg.Http.CacheSize); err != nil {
		log.Fatal("failed to create prediction cache", zap.Error(err))
	}
	lhttp.SetModelProvider(trainer)
	lhttp.SetEventHandler(hub.HandleWebSocket)
	lhttp.SetLogger(log.Named("http"))
	lhttp.SetMetrics(metrics)

	// 5. Retrain when the dataset changes
	if cfg.Dataset.Watch {
		watcher, err := pipeline.NewWatcher(cfg.Dataset.Path, cfg.Dataset.Debounce, func(ctx context.Context) {
			if _, err := trainer.Reload(ctx); err != nil {
				log.Warn("retrain after dataset change failed", zap.Error(err))
			}
		}, log.Named("watcher"))
		if err != nil {
			log.Fatal("failed to watch dataset", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("dataset watcher stopped", zap.Error(err))
			}
		}()
	}

	// 6. Start HTTP server
	server := lhttp.NewServer(lhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
	}, log.Named("http"))
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	// 7. Handle graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}

	if err := server.Stop(context.Background()); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
}
