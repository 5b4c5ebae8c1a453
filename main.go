package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"medcost/config"
	qhttp "medcost/http"
	"medcost/logging"
	"medcost/ml"
	"medcost/monitoring"
)

func main() {
	configPath := flag.String("config", config.Find("config.yaml"), "config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(registry)

	// 4. Predictor, with an optional artifact cache kept fresh by a watcher
	paths := cfg.ArtifactPaths()
	var cache *ml.ArtifactCache
	if cfg.Predictor.Cache {
		cache, err = ml.NewArtifactCache(cfg.Predictor.CacheSize, logger)
		if err != nil {
			logger.Fatal("failed to create artifact cache", zap.Error(err))
		}
		cache.OnLookup = func(path string, hit bool) {
			metrics.ObserveArtifactLookup(filepath.Base(path), hit)
		}
		if cfg.Predictor.Watch {
			go watchArtifacts(ctx, cache, paths, logger)
		}
	}
	predictor := ml.NewPredictor(cfg.Encoder(), cfg.PredictorConfig(), cache, logger)
	if _, err := predictor.Schema(); ml.IsArtifactMissing(err) {
		logger.Warn("no trained artifacts yet, run train_model first",
			zap.String("schema_path", paths.SchemaPath),
			zap.String("model_path", paths.ModelPath))
	}

	// 5. HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.Deps{
		Predictor:  predictor,
		Columns:    cfg.Columns,
		Categories: cfg.Categories,
		Metrics:    metrics,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}

func watchArtifacts(ctx context.Context, cache *ml.ArtifactCache, paths ml.ArtifactPaths, logger *zap.Logger) {
	if err := cache.Watch(ctx, nil, paths.SchemaPath, paths.ModelPath); err != nil {
		logger.Warn("artifact watcher stopped", zap.Error(err))
	}
}
