package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
)

// Schema is the ordered list of encoded feature names. Position i of every
// feature vector holds the value of Schema[i].
type Schema []string

// Alignment describes how a set of encoded fields was fitted to a schema.
type Alignment struct {
	Missing []string
	Extra   []string
}

// Exact 输入字段与模式完全一致时返回 true
func (a Alignment) Exact() bool {
	return len(a.Missing) == 0 && len(a.Extra) == 0
}

// Align orders fields by the schema. Schema fields absent from fields are
// zero-filled and fields outside the schema are dropped; both are reported.
func (s Schema) Align(fields map[string]float64) ([]float64, Alignment) {
	var report Alignment
	vector := make([]float64, len(s))
	for i, name := range s {
		v, ok := fields[name]
		if !ok {
			report.Missing = append(report.Missing, name)
			continue
		}
		vector[i] = v
	}
	for name := range fields {
		if !slices.Contains(s, name) {
			report.Extra = append(report.Extra, name)
		}
	}
	slices.Sort(report.Extra)
	return vector, report
}

// Validate 检查特征名非空且互不重复
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: schema is empty", ErrArtifactMalformed)
	}
	seen := make(map[string]bool, len(s))
	for _, name := range s {
		if name == "" {
			return fmt.Errorf("%w: empty feature name", ErrArtifactMalformed)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate feature %q", ErrArtifactMalformed, name)
		}
		seen[name] = true
	}
	return nil
}

// Save 将模式写入JSON文件
func (s Schema) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal([]string(s))
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadSchema reads a schema artifact. A missing file yields ErrSchemaMissing.
func LoadSchema(path string) (Schema, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaMissing, path)
	}
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, path, err)
	}
	schema := Schema(names)
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return schema, nil
}
