package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Backend         string `yaml:"backend"` // memory | redis | postgres
		Prefix          string `yaml:"prefix"`
		MetadataKey     string `yaml:"metadata_key"`
		SessionTTL      string `yaml:"session_ttl"`
		CleanupInterval string `yaml:"cleanup_interval"`
		MaxSizeBytes    int    `yaml:"max_size_bytes"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Sync struct {
		APIBaseURL      string `yaml:"api_base_url"`
		RequestTimeout  string `yaml:"request_timeout"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"sync"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or
// invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
