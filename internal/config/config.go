package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	minSamplingIntervalSeconds = 1
	maxSamplingIntervalSeconds = 3600
	minConfidenceFloor         = 0.0
	maxConfidenceFloor         = 1.0
	minRetentionDays           = 1
	maxRetentionDays           = 3650
	minCleanupIntervalHours    = 1
	maxCleanupIntervalHours    = 720
)

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Sampling SamplingConfig `toml:"sampling"`
	Engine   EngineConfig   `toml:"engine"`
	Cleanup  CleanupConfig  `toml:"cleanup"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type SamplingConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

type EngineConfig struct {
	MinConfidence float64 `toml:"min_confidence"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days"`
	IntervalHours int `toml:"interval_hours"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath: "/var/lib/battesty/data.db",
		},
		Sampling: SamplingConfig{
			IntervalSeconds: 30,
		},
		Engine: EngineConfig{
			MinConfidence: 0.35,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 90,
			IntervalHours: 24,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	if err := validateRange("sampling.interval_seconds", sanitized.Sampling.IntervalSeconds, minSamplingIntervalSeconds, maxSamplingIntervalSeconds); err != nil {
		return nil, err
	}
	if sanitized.Engine.MinConfidence < minConfidenceFloor || sanitized.Engine.MinConfidence > maxConfidenceFloor {
		return nil, fmt.Errorf("engine.min_confidence must be between %v and %v, got %v", minConfidenceFloor, maxConfidenceFloor, sanitized.Engine.MinConfidence)
	}
	if err := validateRange("cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}

	return &sanitized, nil
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
