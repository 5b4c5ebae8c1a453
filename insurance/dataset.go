package insurance

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVSource reads samples from a delimited text file.
type CSVSource struct {
	Path      string
	Encoding  string
	Delimiter rune
	Columns   Columns
}

// Load 读取并解析CSV数据集
func (s *CSVSource) Load(ctx context.Context) ([]Sample, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	return ReadCSV(ctx, file, s.Encoding, s.Delimiter, s.Columns)
}

// LookupEncoding resolves a text encoding name. An empty name means UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	case "gbk", "cp936":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// ReadCSV decodes r with the named encoding and parses one Sample per row.
// The header row must contain every column in cols; other columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader, encodingName string, delimiter rune, cols Columns) ([]Sample, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	reader := csv.NewReader(bufio.NewReader(transform.NewReader(r, enc.NewDecoder())))
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header, cols)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := reader.FieldPos(0)
		sample, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

type rowIndex struct {
	age, sex, bmi, children, smoker, region, charges int
}

func columnIndex(header []string, cols Columns) (rowIndex, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.TrimSpace(name)] = i
	}
	find := func(name string) (int, error) {
		i, ok := positions[name]
		if !ok {
			return 0, fmt.Errorf("column %q not found in header", name)
		}
		return i, nil
	}

	var idx rowIndex
	var err error
	for _, f := range []struct {
		dst  *int
		name string
	}{
		{&idx.age, cols.Age},
		{&idx.sex, cols.Sex},
		{&idx.bmi, cols.BMI},
		{&idx.children, cols.Children},
		{&idx.smoker, cols.Smoker},
		{&idx.region, cols.Region},
		{&idx.charges, cols.Charges},
	} {
		if *f.dst, err = find(f.name); err != nil {
			return rowIndex{}, err
		}
	}
	return idx, nil
}

func parseRow(row []string, idx rowIndex) (Sample, error) {
	field := func(i int, name string) (string, error) {
		if i >= len(row) {
			return "", fmt.Errorf("missing %s", name)
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			return "", fmt.Errorf("missing %s", name)
		}
		return v, nil
	}
	number := func(i int, name string) (float64, error) {
		v, err := field(i, name)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", name, err)
		}
		return f, nil
	}
	integer := func(i int, name string) (int, error) {
		f, err := number(i, name)
		if err != nil {
			return 0, err
		}
		if f != float64(int(f)) {
			return 0, fmt.Errorf("%s must be a whole number, got %v", name, f)
		}
		return int(f), nil
	}

	var s Sample
	var err error
	if s.Age, err = integer(idx.age, "age"); err != nil {
		return s, err
	}
	if s.Sex, err = field(idx.sex, "sex"); err != nil {
		return s, err
	}
	if s.BMI, err = number(idx.bmi, "bmi"); err != nil {
		return s, err
	}
	if s.Children, err = integer(idx.children, "children"); err != nil {
		return s, err
	}
	if s.Smoker, err = field(idx.smoker, "smoker"); err != nil {
		return s, err
	}
	if s.Region, err = field(idx.region, "region"); err != nil {
		return s, err
	}
	if s.Charges, err = number(idx.charges, "charges"); err != nil {
		return s, err
	}
	return s, nil
}
