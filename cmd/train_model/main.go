package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"medcost/config"
	"medcost/db"
	"medcost/insurance"
	"medcost/logging"
	"medcost/ml"
)

func main() {
	configPath := flag.String("config", config.Find("config.yaml"), "config file")
	source := flag.String("source", "", "dataset source: csv or sqlite (default from config)")
	dataPath := flag.String("data", "", "dataset CSV path (overrides dataset.path)")
	modelType := flag.String("model_type", "", "random_forest or decision_tree")
	nEstimators := flag.Int("n_estimators", 0, "number of trees")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, 0 for unlimited")
	trainRatio := flag.Float64("train_ratio", 0, "share of rows used for fitting")
	seed := flag.Int64("seed", 0, "split and forest seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Dataset.Source = *source
		case "data":
			cfg.Dataset.Path = *dataPath
		case "model_type":
			cfg.Artifacts.ModelType = *modelType
		case "n_estimators":
			cfg.Training.Params.NEstimators = *nEstimators
		case "max_depth":
			cfg.Training.Params.MaxDepth = *maxDepth
		case "train_ratio":
			cfg.Training.TrainRatio = *trainRatio
		case "seed":
			cfg.Training.SplitSeed = *seed
			cfg.Training.Params.Seed = *seed
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := train(ctx, cfg, logger); err != nil {
		// nothing has been written at this point
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		stop()
		os.Exit(1)
	}
}

func train(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var source insurance.Source = cfg.CSVSource()
	var store *db.Store
	if cfg.Dataset.Source == "sqlite" {
		var err error
		store, err = db.Open(cfg.Dataset.Database, cfg.Dataset.Table)
		if err != nil {
			return fmt.Errorf("open dataset database: %w", err)
		}
		defer store.Close()
		source = store
	}
	logger.Info("training",
		zap.String("source", cfg.Dataset.Source),
		zap.String("model_type", cfg.Artifacts.ModelType))

	trainer := ml.NewTrainer(cfg.Encoder(), cfg.TrainingConfig(), logger)
	result, err := trainer.Run(ctx, source, cfg.ArtifactPaths())
	if err != nil {
		return err
	}

	if store != nil {
		entry := db.TrainingLog{
			ModelType: cfg.Artifacts.ModelType,
			Source:    cfg.Dataset.Source,
			R2:        result.Evaluation.R2,
			MAE:       result.Evaluation.MAE,
			RMSE:      result.Evaluation.RMSE,
			TrainRows: result.TrainRows,
			TestRows:  result.TestRows,
		}
		if err := store.SaveTrainingLog(ctx, entry); err != nil {
			logger.Warn("failed to record training run", zap.Error(err))
		}
	}

	fmt.Printf("schema saved to %s\nmodel saved to %s\nR2=%.4f MAE=%.2f RMSE=%.2f\n",
		cfg.Artifacts.SchemaPath, cfg.Artifacts.ModelPath,
		result.Evaluation.R2, result.Evaluation.MAE, result.Evaluation.RMSE)
	return nil
}
