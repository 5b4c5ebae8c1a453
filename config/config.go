// Package config loads the YAML configuration shared by the trainer and the web app.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"medcost/insurance"
	"medcost/ml"
)

// Config 训练程序与网页应用共用的配置
type Config struct {
	Dataset struct {
		Source    string `yaml:"source"` // csv or sqlite
		Path      string `yaml:"path"`
		Encoding  string `yaml:"encoding"`
		Delimiter string `yaml:"delimiter"`
		// Database and Table locate the dataset when Source is sqlite.
		Database string `yaml:"database"`
		Table    string `yaml:"table"`
	} `yaml:"dataset"`
	Columns    insurance.Columns    `yaml:"columns"`
	Categories insurance.Categories `yaml:"categories"`
	Artifacts  struct {
		SchemaPath string `yaml:"schema_path"`
		ModelPath  string `yaml:"model_path"`
		ModelType  string `yaml:"model_type"`
	} `yaml:"artifacts"`
	Training struct {
		TrainRatio float64         `yaml:"train_ratio"`
		SplitSeed  int64           `yaml:"split_seed"`
		Params     ml.ForestParams `yaml:"params"`
	} `yaml:"training"`
	Predictor struct {
		StrictSchema bool `yaml:"strict_schema"`
		Cache        bool `yaml:"cache"`
		CacheSize    int  `yaml:"cache_size"`
		Watch        bool `yaml:"watch"`
	} `yaml:"predictor"`
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Default returns the configuration used for anything config.yaml leaves out.
func Default() *Config {
	var c Config
	c.Dataset.Source = "csv"
	c.Dataset.Path = "insurance-chinese.csv"
	c.Dataset.Encoding = "gbk"
	c.Dataset.Delimiter = ","
	c.Dataset.Database = "data/medcost.db"
	c.Dataset.Table = "insurance"
	c.Columns = insurance.ChineseColumns()
	c.Categories = insurance.ChineseCategories()
	c.Artifacts.SchemaPath = "artifacts/feature_columns.json"
	c.Artifacts.ModelPath = "artifacts/rfr_model.json"
	c.Artifacts.ModelType = ml.ModelTypeRandomForest
	c.Training.TrainRatio = 0.8
	c.Training.SplitSeed = 42
	c.Training.Params = ml.ForestParams{NEstimators: 100, MinSamplesLeaf: 1, Seed: 42}
	c.Predictor.Cache = true
	c.Predictor.CacheSize = 8
	c.Http.Port = 8501
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	return &c
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	config := Default()
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Find returns config.yaml from the working directory or its parent, so the
// binaries also work when started from cmd/.
func Find(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	parent := filepath.Join("..", name)
	if _, err := os.Stat(parent); err == nil {
		return parent
	}
	return name
}

// Validate 检查列名、类别、划分比例与数据源设置
func (c *Config) Validate() error {
	if err := c.Columns.Validate(); err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	if len(c.Categories.Sex) == 0 || len(c.Categories.Smoker) == 0 || len(c.Categories.Region) == 0 {
		return fmt.Errorf("categories: every categorical attribute needs at least one value")
	}
	if c.Training.TrainRatio <= 0 || c.Training.TrainRatio >= 1 {
		return fmt.Errorf("training.train_ratio must be in (0, 1), got %v", c.Training.TrainRatio)
	}
	switch c.Dataset.Source {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("dataset.source must be csv or sqlite, got %q", c.Dataset.Source)
	}
	if _, err := insurance.LookupEncoding(c.Dataset.Encoding); err != nil {
		return fmt.Errorf("dataset.encoding: %w", err)
	}
	if len([]rune(c.Dataset.Delimiter)) > 1 {
		return fmt.Errorf("dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter)
	}
	return nil
}

// Encoder 按配置的列名与类别创建特征编码器
func (c *Config) Encoder() ml.Encoder {
	return ml.NewEncoder(c.Columns, c.Categories)
}

// ArtifactPaths 返回模式与模型文件的位置
func (c *Config) ArtifactPaths() ml.ArtifactPaths {
	return ml.ArtifactPaths{
		SchemaPath: c.Artifacts.SchemaPath,
		ModelPath:  c.Artifacts.ModelPath,
		ModelType:  c.Artifacts.ModelType,
	}
}

// TrainingConfig 返回训练器配置
func (c *Config) TrainingConfig() ml.TrainingConfig {
	return ml.TrainingConfig{
		ModelType:  c.Artifacts.ModelType,
		TrainRatio: c.Training.TrainRatio,
		SplitSeed:  c.Training.SplitSeed,
		Params:     c.Training.Params,
	}
}

// PredictorConfig 返回预测器配置
func (c *Config) PredictorConfig() ml.PredictorConfig {
	return ml.PredictorConfig{
		Paths:        c.ArtifactPaths(),
		StrictSchema: c.Predictor.StrictSchema,
	}
}

// Delimiter returns the dataset delimiter as a rune, defaulting to a comma.
func (c *Config) Delimiter() rune {
	r := []rune(c.Dataset.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// CSVSource describes the configured dataset file.
func (c *Config) CSVSource() *insurance.CSVSource {
	return &insurance.CSVSource{
		Path:      c.Dataset.Path,
		Encoding:  c.Dataset.Encoding,
		Delimiter: c.Delimiter(),
		Columns:   c.Columns,
	}
}
