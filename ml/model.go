package ml

// Regressor is a fitted model mapping one feature vector to a real value.
// Feature vectors are positional; callers align them with a Schema first.
type Regressor interface {
	Fit(features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
	NumFeatures() int
	Save(path string) error
	Load(path string) error
}

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
)

// modelEnvelope is the on-disk form of every model artifact.
type modelEnvelope struct {
	ModelType string       `json:"model_type"`
	Tree      *treeState   `json:"tree,omitempty"`
	Forest    *forestState `json:"forest,omitempty"`
}
