package ml

import (
	"slices"

	"medcost/insurance"
)

// IndicatorSeparator joins a column name and a category value.
const IndicatorSeparator = "_"

// Encoder turns raw records into named numeric fields. Continuous attributes
// keep their column name; each categorical value becomes an indicator field
// named column + "_" + value.
type Encoder struct {
	Columns    insurance.Columns
	Categories insurance.Categories
}

// NewEncoder 创建特征编码器
func NewEncoder(cols insurance.Columns, cats insurance.Categories) Encoder {
	return Encoder{Columns: cols, Categories: cats}
}

// IndicatorName 返回类别取值对应的指示特征名
func IndicatorName(column, value string) string {
	return column + IndicatorSeparator + value
}

type categorical struct {
	column   string
	declared []string
	value    func(insurance.Record) string
}

func (e Encoder) categoricals() []categorical {
	return []categorical{
		{e.Columns.Sex, e.Categories.Sex, func(r insurance.Record) string { return r.Sex }},
		{e.Columns.Smoker, e.Categories.Smoker, func(r insurance.Record) string { return r.Smoker }},
		{e.Columns.Region, e.Categories.Region, func(r insurance.Record) string { return r.Region }},
	}
}

func (e Encoder) continuous() []string {
	return []string{e.Columns.Age, e.Columns.BMI, e.Columns.Children}
}

// FitSchema derives the feature schema from training records: the continuous
// columns first, then one indicator per distinct observed value of each
// categorical column with values in sorted order. The result does not depend
// on row order.
func (e Encoder) FitSchema(records []insurance.Record) Schema {
	schema := Schema(slices.Clone(e.continuous()))
	for _, c := range e.categoricals() {
		seen := make(map[string]bool)
		values := make([]string, 0, 4)
		for _, r := range records {
			v := c.value(r)
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
		slices.Sort(values)
		for _, v := range values {
			schema = append(schema, IndicatorName(c.column, v))
		}
	}
	return schema
}

// Encode builds the named fields of one record. Every declared category
// value gets an indicator set to 0, then the record's own value is set to 1,
// so exactly one sibling indicator is hot per categorical attribute.
func (e Encoder) Encode(r insurance.Record) map[string]float64 {
	fields := map[string]float64{
		e.Columns.Age:      float64(r.Age),
		e.Columns.BMI:      r.BMI,
		e.Columns.Children: float64(r.Children),
	}
	for _, c := range e.categoricals() {
		for _, v := range c.declared {
			fields[IndicatorName(c.column, v)] = 0
		}
		fields[IndicatorName(c.column, c.value(r))] = 1
	}
	return fields
}

// EncodeMatrix encodes records under schema. Training rows always cover the
// schema, so the alignment report is not needed here.
func (e Encoder) EncodeMatrix(records []insurance.Record, schema Schema) [][]float64 {
	matrix := make([][]float64, len(records))
	for i, r := range records {
		matrix[i], _ = schema.Align(e.Encode(r))
	}
	return matrix
}

