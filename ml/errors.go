package ml

import "errors"

var (
	ErrSchemaMissing     = errors.New("feature schema missing")
	ErrModelMissing      = errors.New("model missing")
	ErrArtifactMalformed = errors.New("artifact malformed")
	ErrSchemaMismatch    = errors.New("features do not match schema")
	ErrPrediction        = errors.New("prediction failed")
	ErrNotTrained        = errors.New("model not trained")
	ErrEmptyDataset      = errors.New("dataset is empty")
)

// IsArtifactMissing reports whether err means training has not been run yet.
func IsArtifactMissing(err error) bool {
	return errors.Is(err, ErrSchemaMissing) || errors.Is(err, ErrModelMissing)
}
