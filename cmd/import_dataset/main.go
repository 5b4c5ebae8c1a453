// Command import_dataset copies the CSV dataset into the SQLite table that
// train_model reads with -source sqlite.
package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"medcost/config"
	"medcost/db"
	"medcost/logging"
)

func main() {
	configPath := flag.String("config", config.Find("config.yaml"), "config file")
	csvPath := flag.String("csv", "", "dataset CSV path (overrides dataset.path)")
	dbPath := flag.String("db", "", "SQLite database path (overrides dataset.database)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *csvPath != "" {
		cfg.Dataset.Path = *csvPath
	}
	if *dbPath != "" {
		cfg.Dataset.Database = *dbPath
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	samples, err := cfg.CSVSource().Load(ctx)
	if err != nil {
		logger.Fatal("read dataset failed", zap.String("path", cfg.Dataset.Path), zap.Error(err))
	}

	store, err := db.Open(cfg.Dataset.Database, cfg.Dataset.Table)
	if err != nil {
		logger.Fatal("open database failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.ReplaceSamples(ctx, samples); err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}
	logger.Info("dataset imported",
		zap.Int("rows", len(samples)),
		zap.String("database", cfg.Dataset.Database),
		zap.String("table", cfg.Dataset.Table))
}
