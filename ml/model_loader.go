package ml

import (
	"fmt"
)

// NewModel returns an untrained regressor of the named type.
func NewModel(modelType string, params ForestParams) (Regressor, error) {
	switch modelType {
	case ModelTypeRandomForest, "":
		opts := []RandomForestOption{
			WithTreeDepth(params.MaxDepth),
			WithSplitFeatures(params.MaxFeatures),
			WithRandomState(params.Seed),
		}
		if params.NEstimators > 0 {
			opts = append(opts, WithNEstimators(params.NEstimators))
		}
		if params.MinSamplesLeaf > 0 {
			opts = append(opts, WithLeafSize(params.MinSamplesLeaf))
		}
		return NewRandomForest(opts...), nil
	case ModelTypeDecisionTree:
		tree := NewRegressionTree(WithMaxDepth(params.MaxDepth), WithSeed(params.Seed))
		if params.MinSamplesLeaf > 0 {
			tree.MinSamplesLeaf = params.MinSamplesLeaf
		}
		return tree, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// LoadModel 按模型类型从文件加载回归器
func LoadModel(modelType, path string) (Regressor, error) {
	var model Regressor
	switch modelType {
	case ModelTypeRandomForest, "":
		model = &RandomForest{}
	case ModelTypeDecisionTree:
		model = &RegressionTree{}
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}
