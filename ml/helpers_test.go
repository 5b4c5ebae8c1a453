package ml

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"medcost/insurance"
)

func englishEncoder() Encoder {
	return NewEncoder(insurance.EnglishColumns(), insurance.EnglishCategories())
}

// syntheticSamples draws n people whose charges follow a known rule so the
// fitted model has something real to learn.
func syntheticSamples(n int, seed int64) []insurance.Sample {
	rnd := rand.New(rand.NewSource(seed))
	cats := insurance.EnglishCategories()
	regionOffset := map[string]float64{"southeast": 1500, "southwest": 500, "northeast": 1000, "northwest": 0}

	samples := make([]insurance.Sample, n)
	for i := range samples {
		rec := insurance.Record{
			Age:      18 + rnd.Intn(47),
			Sex:      cats.Sex[rnd.Intn(len(cats.Sex))],
			BMI:      16 + rnd.Float64()*30,
			Children: rnd.Intn(5),
			Smoker:   cats.Smoker[rnd.Intn(len(cats.Smoker))],
			Region:   cats.Region[rnd.Intn(len(cats.Region))],
		}
		charges := 2000 + 250*float64(rec.Age) + 300*rec.BMI + 500*float64(rec.Children) + regionOffset[rec.Region]
		if rec.Smoker == "yes" {
			charges += 20000
		}
		samples[i] = insurance.Sample{Record: rec, Charges: charges}
	}
	return samples
}

type sliceSource []insurance.Sample

func (s sliceSource) Load(context.Context) ([]insurance.Sample, error) {
	return s, nil
}

type failingSource struct{}

func (failingSource) Load(context.Context) ([]insurance.Sample, error) {
	return nil, fmt.Errorf("disk on fire")
}

func testPaths(t *testing.T, modelType string) ArtifactPaths {
	t.Helper()
	dir := t.TempDir()
	return ArtifactPaths{
		SchemaPath: filepath.Join(dir, "feature_columns.json"),
		ModelPath:  filepath.Join(dir, "model.json"),
		ModelType:  modelType,
	}
}

func smallForestConfig() TrainingConfig {
	return TrainingConfig{
		ModelType:  ModelTypeRandomForest,
		TrainRatio: 0.8,
		SplitSeed:  42,
		Params:     ForestParams{NEstimators: 15, Seed: 7},
	}
}

// trainedArtifacts runs a full training job and returns where it wrote.
func trainedArtifacts(t *testing.T) ArtifactPaths {
	t.Helper()
	paths := testPaths(t, ModelTypeRandomForest)
	trainer := NewTrainer(englishEncoder(), smallForestConfig(), nil)
	_, err := trainer.Run(context.Background(), sliceSource(syntheticSamples(200, 1)), paths)
	require.NoError(t, err)
	return paths
}

func splitSamples(samples []insurance.Sample) ([]insurance.Record, []float64) {
	records := make([]insurance.Record, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		records[i] = s.Record
		targets[i] = s.Charges
	}
	return records, targets
}
