package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Warehouse struct {
		// Path is a local warehouse directory. Used when no bucket is set.
		Path string `yaml:"path"`
		S3   struct {
			Bucket   string `yaml:"bucket"`
			Prefix   string `yaml:"prefix"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"s3"`
	} `yaml:"warehouse"`

	Catalog struct {
		Backend string `yaml:"backend"` // memory or postgres
		DSN     string `yaml:"dsn"`
	} `yaml:"catalog"`

	Tables []struct {
		Namespace string `yaml:"namespace"`
		Name      string `yaml:"name"`
	} `yaml:"tables"`

	Query struct {
		Port int `yaml:"port"`
	} `yaml:"query"`

	Log struct {
		JSON  bool   `yaml:"json"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Catalog.Backend == "" {
		cfg.Catalog.Backend = "memory"
	}
	if cfg.Catalog.Backend == "postgres" && cfg.Catalog.DSN == "" {
		return nil, fmt.Errorf("postgres catalog requires a dsn")
	}
	if cfg.Warehouse.Path == "" && cfg.Warehouse.S3.Bucket == "" {
		return nil, fmt.Errorf("warehouse needs a local path or an s3 bucket")
	}
	if cfg.Query.Port == 0 {
		cfg.Query.Port = 5433
	}

	return &cfg, nil
}
