package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/cache"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
)

// Config корневая структура конфигурации fogtool.
type Config struct {
	Store   StoreConfig    `yaml:"store"`
	Codec   CodecConfig    `yaml:"codec"`
	Cache   cache.Config   `yaml:"cache"`
	Logging logging.Config `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

type StoreConfig struct {
	Workers         int   `yaml:"workers"`
	StrictNames     bool  `yaml:"strict_names"`
	VerifyChecksums *bool `yaml:"verify_checksums"`
}

type CodecConfig struct {
	Format    string `yaml:"format"`
	Canonical *bool  `yaml:"canonical"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GetWorkers возвращает число воркеров с поддержкой fallback значений
func (s *StoreConfig) GetWorkers() int {
	return getIntWithEnvFallback(s.Workers, "FOG_WORKERS", 0)
}

// GetVerifyChecksums по умолчанию включена.
func (s *StoreConfig) GetVerifyChecksums() bool {
	return getBoolWithEnvFallback(s.VerifyChecksums, "FOG_VERIFY_CHECKSUMS", true)
}

// GetFormat возвращает формат записи с поддержкой fallback значений
func (c *CodecConfig) GetFormat() string {
	return getStringWithEnvFallback(c.Format, "FOG_FORMAT", "sync")
}

// GetCanonical по умолчанию включён.
func (c *CodecConfig) GetCanonical() bool {
	return getBoolWithEnvFallback(c.Canonical, "FOG_CANONICAL", true)
}

// GetAddr возвращает адрес /metrics с поддержкой fallback значений
func (m *MetricsConfig) GetAddr() string {
	return getStringWithEnvFallback(m.Addr, "FOG_METRICS_ADDR", ":2112")
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

func getBoolWithEnvFallback(configVal *bool, envVar string, defaultVal bool) bool {
	if configVal != nil {
		return *configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.ParseBool(envVal); err == nil {
			return v
		}
	}
	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Default возвращает конфигурацию без файла.
func Default() *Config {
	return &Config{
		Cache:   cache.Config{Kind: "none"},
		Logging: logging.Config{Level: "info"},
	}
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV FOG_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FOG_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфиг %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфига %s: %w", path, err)
	}
	return cfg, nil
}
