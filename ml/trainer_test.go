package ml

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"medcost/insurance"
)

func TestTrainerRunWritesArtifacts(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), zaptest.NewLogger(t))

	result, err := trainer.Run(context.Background(), sliceSource(syntheticSamples(200, 1)), paths)
	require.NoError(t, err)
	assert.Equal(t, 160, result.TrainRows)
	assert.Equal(t, 40, result.TestRows)
	assert.Greater(t, result.Evaluation.R2, 0.5)

	schema, err := LoadSchema(paths.SchemaPath)
	require.NoError(t, err)
	assert.Equal(t, result.Schema, schema)

	model, err := LoadModel(paths.ModelType, paths.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, len(schema), model.NumFeatures())

	_, err = os.Stat(paths.SchemaPath + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTrainerDatasetFailureWritesNothing(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), nil)

	_, err := trainer.Run(context.Background(), failingSource{}, paths)
	require.Error(t, err)
	assertNoArtifacts(t, paths)
}

func TestTrainerFitFailureWritesNothing(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	samples := syntheticSamples(30, 1)
	for i := range samples {
		samples[i].Charges = math.NaN()
	}
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), nil)

	_, err := trainer.Run(context.Background(), sliceSource(samples), paths)
	require.ErrorContains(t, err, "fit model")
	assertNoArtifacts(t, paths)
}

func TestTrainerUnknownModelType(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	config := smallForestConfig()
	config.ModelType = "gradient_boosting"
	trainer := NewTrainer(englishEncoder(), config, nil)

	_, err := trainer.Run(context.Background(), sliceSource(syntheticSamples(30, 1)), paths)
	require.Error(t, err)
	assertNoArtifacts(t, paths)
}

func TestTrainerEmptyDataset(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), nil)

	_, err := trainer.Run(context.Background(), sliceSource(nil), paths)
	require.ErrorIs(t, err, ErrEmptyDataset)
	assertNoArtifacts(t, paths)
}

func TestTrainerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTrainer(englishEncoder(), smallForestConfig(), nil).Train(ctx, syntheticSamples(20, 1))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTrainerDecisionTree(t *testing.T) {
	paths := testPaths(t, ModelTypeDecisionTree)
	config := smallForestConfig()
	config.ModelType = ModelTypeDecisionTree
	config.Params.MaxDepth = 8

	_, err := NewTrainer(englishEncoder(), config, nil).Run(context.Background(), sliceSource(syntheticSamples(100, 2)), paths)
	require.NoError(t, err)

	_, err = LoadModel(ModelTypeDecisionTree, paths.ModelPath)
	require.NoError(t, err)
}

func TestTrainerSchemaIndependentOfRowOrder(t *testing.T) {
	samples := syntheticSamples(100, 3)
	reversed := make([]insurance.Sample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), nil)

	a, err := trainer.Train(context.Background(), samples)
	require.NoError(t, err)
	b, err := trainer.Train(context.Background(), reversed)
	require.NoError(t, err)
	assert.Equal(t, a.Schema, b.Schema)
}

func TestSaveArtifactsRejectsMismatchedModel(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	rf := NewRandomForest(WithNEstimators(2))
	require.NoError(t, rf.Fit([][]float64{{1, 2}, {3, 4}}, []float64{1, 2}))

	err := SaveArtifacts(paths, Schema{"age"}, rf)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assertNoArtifacts(t, paths)
}

func TestSaveArtifactsModelInstallFailureRemovesSchema(t *testing.T) {
	paths := testPaths(t, ModelTypeRandomForest)
	// a non-empty directory at the model path makes the final rename fail
	require.NoError(t, os.MkdirAll(paths.ModelPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ModelPath, "keep"), []byte("x"), 0o600))

	rf := NewRandomForest(WithNEstimators(2))
	require.NoError(t, rf.Fit([][]float64{{1}, {2}, {3}}, []float64{1, 2, 3}))

	err := SaveArtifacts(paths, Schema{"age"}, rf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install model")
	for _, p := range []string{paths.SchemaPath, paths.SchemaPath + ".tmp", paths.ModelPath + ".tmp"} {
		_, statErr := os.Stat(p)
		assert.ErrorIs(t, statErr, os.ErrNotExist, p)
	}

	_, err = LoadSchema(paths.SchemaPath)
	assert.ErrorIs(t, err, ErrSchemaMissing)
}

func assertNoArtifacts(t *testing.T, paths ArtifactPaths) {
	t.Helper()
	for _, p := range []string{paths.SchemaPath, paths.ModelPath, paths.SchemaPath + ".tmp", paths.ModelPath + ".tmp"} {
		_, err := os.Stat(p)
		assert.ErrorIs(t, err, os.ErrNotExist, p)
	}
}
