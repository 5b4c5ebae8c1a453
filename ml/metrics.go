package ml

import "math"

// Evaluation holds held-out regression scores.
type Evaluation struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

// Evaluate 在给定数据上评估模型
func Evaluate(model Regressor, features [][]float64, targets []float64) (Evaluation, error) {
	if len(features) == 0 {
		return Evaluation{}, nil
	}
	preds := make([]float64, len(features))
	for i, row := range features {
		p, err := model.Predict(row)
		if err != nil {
			return Evaluation{}, err
		}
		preds[i] = p
	}
	return Evaluation{
		R2:   R2(targets, preds),
		MAE:  MAE(targets, preds),
		RMSE: math.Sqrt(MSE(targets, preds)),
	}, nil
}

// MSE 均方误差
func MSE(yTrue, yPred []float64) float64 {
	s := 0.0
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		s += d * d
	}
	return s / float64(len(yTrue))
}

// MAE 平均绝对误差
func MAE(yTrue, yPred []float64) float64 {
	s := 0.0
	for i := range yTrue {
		s += math.Abs(yPred[i] - yTrue[i])
	}
	return s / float64(len(yTrue))
}

// R2 is the coefficient of determination. A constant target yields 0.
func R2(yTrue, yPred []float64) float64 {
	m := 0.0
	for _, v := range yTrue {
		m += v
	}
	m /= float64(len(yTrue))
	var ssTot, ssRes float64
	for i := range yTrue {
		d := yTrue[i] - m
		ssTot += d * d
		r := yTrue[i] - yPred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
