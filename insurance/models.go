package insurance

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// Record is one insured person's raw attributes.
type Record struct {
	Age      int     `json:"age"`
	Sex      string  `json:"sex"`
	BMI      float64 `json:"bmi"`
	Children int     `json:"children"`
	Smoker   string  `json:"smoker"`
	Region   string  `json:"region"`
}

// Sample is a Record with its observed medical charges.
type Sample struct {
	Record
	Charges float64 `json:"charges"`
}

// Source yields labeled samples for training.
type Source interface {
	Load(ctx context.Context) ([]Sample, error)
}

// Columns maps each attribute to its column name in the dataset. The names
// also prefix the encoded feature names.
type Columns struct {
	Age      string `yaml:"age"`
	Sex      string `yaml:"sex"`
	BMI      string `yaml:"bmi"`
	Children string `yaml:"children"`
	Smoker   string `yaml:"smoker"`
	Region   string `yaml:"region"`
	Charges  string `yaml:"charges"`
}

// ChineseColumns matches the headers of insurance-chinese.csv.
func ChineseColumns() Columns {
	return Columns{
		Age:      "年龄",
		Sex:      "性别",
		BMI:      "BMI",
		Children: "子女数量",
		Smoker:   "是否吸烟",
		Region:   "区域",
		Charges:  "医疗费用",
	}
}

// EnglishColumns 英文数据集的列名
func EnglishColumns() Columns {
	return Columns{
		Age:      "age",
		Sex:      "sex",
		BMI:      "bmi",
		Children: "children",
		Smoker:   "smoker",
		Region:   "region",
		Charges:  "charges",
	}
}

// Features returns the six attribute columns in dataset order.
func (c Columns) Features() []string {
	return []string{c.Age, c.Sex, c.BMI, c.Children, c.Smoker, c.Region}
}

// Validate 检查列名非空且互不重复
func (c Columns) Validate() error {
	names := append(c.Features(), c.Charges)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("column name is empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate column name %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Categories lists the allowed values of each categorical attribute, in the
// order they are offered on the form.
type Categories struct {
	Sex    []string `yaml:"sex"`
	Smoker []string `yaml:"smoker"`
	Region []string `yaml:"region"`
}

// ChineseCategories 中文数据集的类别取值
func ChineseCategories() Categories {
	return Categories{
		Sex:    []string{"男性", "女性"},
		Smoker: []string{"是", "否"},
		Region: []string{"东南部", "西南部", "东北部", "西北部"},
	}
}

// EnglishCategories 英文数据集的类别取值
func EnglishCategories() Categories {
	return Categories{
		Sex:    []string{"male", "female"},
		Smoker: []string{"yes", "no"},
		Region: []string{"southeast", "southwest", "northeast", "northwest"},
	}
}

// ValidationError reports a record that falls outside the form bounds.
type ValidationError struct {
	Field  string
	Reason string
}

// Error 返回字段与原因
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Check enforces the form bounds: non-negative numbers and declared category values.
func (c Categories) Check(r Record) error {
	switch {
	case r.Age < 0:
		return &ValidationError{Field: "age", Reason: "must not be negative"}
	case math.IsNaN(r.BMI) || math.IsInf(r.BMI, 0):
		return &ValidationError{Field: "bmi", Reason: "must be a finite number"}
	case r.BMI < 0:
		return &ValidationError{Field: "bmi", Reason: "must not be negative"}
	case r.Children < 0:
		return &ValidationError{Field: "children", Reason: "must not be negative"}
	case !slices.Contains(c.Sex, r.Sex):
		return &ValidationError{Field: "sex", Reason: fmt.Sprintf("unknown value %q", r.Sex)}
	case !slices.Contains(c.Smoker, r.Smoker):
		return &ValidationError{Field: "smoker", Reason: fmt.Sprintf("unknown value %q", r.Smoker)}
	case !slices.Contains(c.Region, r.Region):
		return &ValidationError{Field: "region", Reason: fmt.Sprintf("unknown value %q", r.Region)}
	}
	return nil
}
