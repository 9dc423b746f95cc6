// Package config loads config.yaml.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"lcktree/logger"
	"lcktree/pipeline"
)

type Config struct {
	Dataset struct {
		pipeline.LoaderConfig `yaml:",inline"`
		Watch                 bool          `yaml:"watch"`
		Debounce              time.Duration `yaml:"debounce"`
	} `yaml:"dataset"`
	Model struct {
		MaxDepth      int     `yaml:"max_depth"`
		TrainRatio    float64 `yaml:"train_ratio"`
		Seed          int64   `yaml:"seed"`
		ParallelDepth int     `yaml:"parallel_depth"`
	} `yaml:"model"`
	Database struct {
		Path      string `yaml:"path"`
		EnableWAL bool   `yaml:"enable_wal"`
	} `yaml:"database"`
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		CacheSize      int           `yaml:"cache_size"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Log logger.Config `yaml:"log"`
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	cfg := &Config{}
	cfg.Dataset.LoaderConfig = pipeline.DefaultLoaderConfig()
	cfg.Dataset.Path = "lck_player_stats_2021_2025.csv"
	cfg.Dataset.Debounce = time.Second
	cfg.Model.MaxDepth = 5
	cfg.Model.TrainRatio = 0.7
	cfg.Database.Path = "data/lcktree.db"
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.AllowedOrigins = []string{"*"}
	cfg.Http.CacheSize = 1024
	cfg.Http.MaxBodyBytes = 1 << 20
	cfg.Log.Level = "info"
	return cfg
}

// Load decodes path over the defaults. Relative dataset and database paths
// are resolved against the directory of path.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	cfg.Dataset.Path = resolve(dir, cfg.Dataset.Path)
	cfg.Database.Path = resolve(dir, cfg.Database.Path)
	if cfg.Log.File != "" {
		cfg.Log.File = resolve(dir, cfg.Log.File)
	}
	return cfg, nil
}

// Find returns config.yaml from the working directory or its parent, so
// binaries under cmd/ can be run in place.
func Find() string {
	configPath := "config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join("..", "config.yaml")
	}
	return configPath
}

func (c *Config) Validate() error {
	if c.Dataset.Path == "" {
		return errors.New("dataset.path is required")
	}
	if c.Model.MaxDepth < 0 {
		return errors.New("model.max_depth must be >= 0")
	}
	if c.Model.TrainRatio <= 0 || c.Model.TrainRatio >= 1 {
		return errors.New("model.train_ratio must be in (0, 1)")
	}
	if c.Http.Port <= 0 {
		return errors.New("http.port must be positive")
	}
	return nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
