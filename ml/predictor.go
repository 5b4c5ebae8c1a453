package ml

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"medcost/insurance"
)

// DisplayPlaces is the number of decimals an estimate is rounded to.
const DisplayPlaces = 2

// PredictorConfig 预测器配置
type PredictorConfig struct {
	Paths ArtifactPaths
	// StrictSchema rejects records whose encoding does not cover every
	// schema field instead of zero-filling the gaps.
	StrictSchema bool
}

// Prediction 一次预测的结果
type Prediction struct {
	Charges   decimal.Decimal `json:"charges"`
	Raw       float64         `json:"raw"`
	Alignment Alignment       `json:"-"`
}

// Predictor applies persisted artifacts to single records. It never writes
// the artifacts.
type Predictor struct {
	encoder Encoder
	config  PredictorConfig
	cache   *ArtifactCache
	logger  *zap.Logger
}

// NewPredictor builds a predictor. cache may be nil, in which case every
// call reads the artifacts from disk.
func NewPredictor(encoder Encoder, config PredictorConfig, cache *ArtifactCache, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{encoder: encoder, config: config, cache: cache, logger: logger.Named("predictor")}
}

// Encoder 返回预测器使用的特征编码器
func (p *Predictor) Encoder() Encoder {
	return p.encoder
}

// Schema returns the persisted feature schema.
func (p *Predictor) Schema() (Schema, error) {
	return loadCached(p.cache, p.config.Paths.SchemaPath, LoadSchema)
}

func (p *Predictor) model() (Regressor, error) {
	return loadCached(p.cache, p.config.Paths.ModelPath, func(path string) (Regressor, error) {
		return LoadModel(p.config.Paths.ModelType, path)
	})
}

// Predict estimates the charges for one record.
func (p *Predictor) Predict(ctx context.Context, record insurance.Record) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, err := p.Schema()
	if err != nil {
		return nil, err
	}

	vector, alignment := schema.Align(p.encoder.Encode(record))
	if !alignment.Exact() {
		p.logger.Warn("encoded record does not match schema",
			zap.Strings("missing", alignment.Missing),
			zap.Strings("extra", alignment.Extra))
	}
	if p.config.StrictSchema && len(alignment.Missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrSchemaMismatch, alignment.Missing)
	}

	model, err := p.model()
	if err != nil {
		return nil, err
	}
	if model.NumFeatures() != len(schema) {
		return nil, fmt.Errorf("%w: model expects %d features, schema has %d",
			ErrSchemaMismatch, model.NumFeatures(), len(schema))
	}

	raw, err := applyModel(model, vector)
	if err != nil {
		p.logger.Error("prediction failed", zap.Error(err))
		return nil, err
	}

	return &Prediction{
		Charges:   decimal.NewFromFloat(raw).Round(DisplayPlaces),
		Raw:       raw,
		Alignment: alignment,
	}, nil
}

func applyModel(model Regressor, vector []float64) (y float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			y, err = 0, fmt.Errorf("%w: %v", ErrPrediction, r)
		}
	}()
	y, err = model.Predict(vector)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: model returned %v", ErrPrediction, y)
	}
	return y, nil
}
