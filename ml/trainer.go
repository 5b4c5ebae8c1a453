package ml

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"medcost/insurance"
)

// ForestParams are the model hyperparameters. Zero values select defaults.
type ForestParams struct {
	NEstimators    int   `yaml:"n_estimators"`
	MaxDepth       int   `yaml:"max_depth"`
	MinSamplesLeaf int   `yaml:"min_samples_leaf"`
	MaxFeatures    int   `yaml:"max_features"`
	Seed           int64 `yaml:"seed"`
}

// TrainingConfig 训练配置
type TrainingConfig struct {
	ModelType  string
	TrainRatio float64
	SplitSeed  int64
	Params     ForestParams
}

// TrainResult is the outcome of a training run. Schema and Model are only
// persisted by Run.
type TrainResult struct {
	Schema     Schema
	Model      Regressor
	TrainRows  int
	TestRows   int
	Evaluation Evaluation
	Duration   time.Duration
}

// Trainer 模型训练器
type Trainer struct {
	encoder Encoder
	config  TrainingConfig
	logger  *zap.Logger
}

// NewTrainer 创建训练器
func NewTrainer(encoder Encoder, config TrainingConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{encoder: encoder, config: config, logger: logger.Named("trainer")}
}

// Train encodes samples, fits the model on the training split and scores it
// on the held-out split.
func (t *Trainer) Train(ctx context.Context, samples []insurance.Sample) (*TrainResult, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	start := time.Now()

	records := make([]insurance.Record, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		records[i] = s.Record
		targets[i] = s.Charges
	}

	schema := t.encoder.FitSchema(records)
	features := t.encoder.EncodeMatrix(records, schema)
	t.logger.Info("features encoded",
		zap.Int("rows", len(features)),
		zap.Strings("schema", schema))

	trainIdx, testIdx := TrainTestSplit(len(features), t.config.TrainRatio, t.config.SplitSeed)
	trainX, trainY := selectRows(features, targets, trainIdx)
	testX, testY := selectRows(features, targets, testIdx)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := NewModel(t.config.ModelType, t.config.Params)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(trainX, trainY); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	eval, err := Evaluate(model, testX, testY)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}

	result := &TrainResult{
		Schema:     schema,
		Model:      model,
		TrainRows:  len(trainX),
		TestRows:   len(testX),
		Evaluation: eval,
		Duration:   time.Since(start),
	}
	t.logger.Info("model trained",
		zap.String("model_type", t.config.ModelType),
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows),
		zap.Float64("r2", eval.R2),
		zap.Float64("mae", eval.MAE),
		zap.Float64("rmse", eval.RMSE),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Run loads the dataset, trains, and persists both artifacts. Nothing is
// written unless every earlier step succeeded.
func (t *Trainer) Run(ctx context.Context, source insurance.Source, paths ArtifactPaths) (*TrainResult, error) {
	samples, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	t.logger.Info("dataset loaded", zap.Int("samples", len(samples)))

	result, err := t.Train(ctx, samples)
	if err != nil {
		return nil, err
	}
	if err := SaveArtifacts(paths, result.Schema, result.Model); err != nil {
		return nil, err
	}
	t.logger.Info("artifacts saved",
		zap.String("schema_path", paths.SchemaPath),
		zap.String("model_path", paths.ModelPath))
	return result, nil
}
