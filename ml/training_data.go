package ml

import (
	"math"
	"math/rand"
)

// TrainTestSplit shuffles row indices with a fixed seed and returns the
// first round(n*trainRatio) as the training rows and the rest as held out.
// The same n, ratio and seed always give the same split.
func TrainTestSplit(n int, trainRatio float64, seed int64) (train, test []int) {
	if trainRatio <= 0 || trainRatio >= 1 {
		trainRatio = 0.8
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	split := int(math.Round(float64(n) * trainRatio))
	if split == 0 && n > 0 {
		split = 1
	}
	return indices[:split], indices[split:]
}

func selectRows(features [][]float64, targets []float64, rows []int) ([][]float64, []float64) {
	x := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		x[i] = features[r]
		y[i] = targets[r]
	}
	return x, y
}
