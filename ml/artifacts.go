package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactPaths locates the schema and model written by a training run.
type ArtifactPaths struct {
	SchemaPath string
	ModelPath  string
	ModelType  string
}

// SaveArtifacts writes schema and model next to their destinations first and
// renames both into place only once both writes have succeeded. If the model
// cannot be renamed after the schema was installed, the new schema is removed
// as well and the previous artifacts are not preserved: the predictor then
// reports the schema as missing until training runs again.
func SaveArtifacts(paths ArtifactPaths, schema Schema, model Regressor) (err error) {
	if model.NumFeatures() != len(schema) {
		return fmt.Errorf("%w: model has %d features, schema has %d", ErrSchemaMismatch, model.NumFeatures(), len(schema))
	}
	for _, p := range []string{paths.SchemaPath, paths.ModelPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}

	schemaTmp := paths.SchemaPath + ".tmp"
	modelTmp := paths.ModelPath + ".tmp"
	defer func() {
		if err != nil {
			os.Remove(schemaTmp)
			os.Remove(modelTmp)
		}
	}()

	if err := schema.Save(schemaTmp); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	if err := model.Save(modelTmp); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(schemaTmp, paths.SchemaPath); err != nil {
		return fmt.Errorf("install schema: %w", err)
	}
	if err := os.Rename(modelTmp, paths.ModelPath); err != nil {
		return errors.Join(fmt.Errorf("install model: %w", err), os.Remove(paths.SchemaPath))
	}
	return nil
}
