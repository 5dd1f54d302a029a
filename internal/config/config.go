package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DerivatesStrategy selects when derivates are produced: at ingestion time
// or on first read.
type DerivatesStrategy string

const (
	StrategyPreprocess DerivatesStrategy = "PREPROCESS"
	StrategyOnDemand   DerivatesStrategy = "ON_DEMAND"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Storage  StorageConfig  `yaml:"storage"`
	Blur     BlurConfig     `yaml:"blur"`
	Process  ProcessConfig  `yaml:"process"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig describes the three blob namespaces. Backend is either
// "minio" (one bucket per namespace) or "fs" (subdirectories of root).
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Root    string      `yaml:"root"`
	MinIO   MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKey       string `yaml:"access_key"`
	SecretKey       string `yaml:"secret_key"`
	PermanentBucket string `yaml:"permanent_bucket"`
	DerivatesBucket string `yaml:"derivates_bucket"`
	TmpBucket       string `yaml:"tmp_bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// BlurConfig wires the remote blurring service. An empty URL disables
// blurring entirely.
type BlurConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ProcessConfig struct {
	DerivatesStrategy DerivatesStrategy `yaml:"derivates_strategy"`
	WorkerCount       int               `yaml:"worker_count"`
	PollInterval      time.Duration     `yaml:"poll_interval"`
	KeepFullExif      bool              `yaml:"keep_full_exif"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if cfg.Process.DerivatesStrategy != StrategyPreprocess && cfg.Process.DerivatesStrategy != StrategyOnDemand {
		return nil, fmt.Errorf("invalid derivates strategy %q", cfg.Process.DerivatesStrategy)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "fs"
	}
	if cfg.Storage.MinIO.PermanentBucket == "" {
		cfg.Storage.MinIO.PermanentBucket = "pano-permanent"
	}
	if cfg.Storage.MinIO.DerivatesBucket == "" {
		cfg.Storage.MinIO.DerivatesBucket = "pano-derivates"
	}
	if cfg.Storage.MinIO.TmpBucket == "" {
		cfg.Storage.MinIO.TmpBucket = "pano-tmp"
	}
	if cfg.Blur.Timeout == 0 {
		cfg.Blur.Timeout = 60 * time.Second
	}
	if cfg.Process.DerivatesStrategy == "" {
		cfg.Process.DerivatesStrategy = StrategyOnDemand
	}
	if cfg.Process.WorkerCount == 0 {
		cfg.Process.WorkerCount = 4
	}
	if cfg.Process.PollInterval == 0 {
		cfg.Process.PollInterval = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PANO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PANO_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PANO_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PANO_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PANO_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PANO_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PANO_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PANO_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PANO_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("PANO_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("PANO_MINIO_ENDPOINT"); v != "" {
		cfg.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("PANO_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("PANO_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("PANO_API_BLUR_URL"); v != "" {
		cfg.Blur.URL = v
	}
	if v := os.Getenv("PANO_PICTURE_PROCESS_DERIVATES_STRATEGY"); v != "" {
		cfg.Process.DerivatesStrategy = DerivatesStrategy(v)
	}
	if v := os.Getenv("PANO_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Process.WorkerCount = n
		}
	}
}
