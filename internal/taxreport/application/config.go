package application

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds cache and population tuning.
type Config struct {
	TTL           time.Duration `yaml:"ttl"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	LookbackYears int           `yaml:"lookback_years"`
	BatchSize     int           `yaml:"batch_size"`
	PrefetchBatch int           `yaml:"prefetch_batch"`
	PrefetchPause time.Duration `yaml:"prefetch_pause"`
	// WarmCompanies are prefetched once at start-up.
	WarmCompanies []string `yaml:"warm_companies"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		FlushInterval: DefaultFlushInterval,
		LookbackYears: DefaultLookbackYears,
		BatchSize:     DefaultBatchSize,
		PrefetchBatch: DefaultPrefetchBatch,
		PrefetchPause: DefaultPrefetchPause,
	}
}

// LoadConfig loads config from an optional yaml file (TAXREPORT_CONFIG)
// and then applies environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("TAXREPORT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.TTL = getenvDuration("CACHE_TTL", cfg.TTL)
	cfg.FlushInterval = getenvDuration("FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.LookbackYears = getenvIntDefault("LOOKBACK_YEARS", cfg.LookbackYears)
	cfg.BatchSize = getenvIntDefault("BATCH_SIZE", cfg.BatchSize)
	cfg.PrefetchBatch = getenvIntDefault("PREFETCH_BATCH", cfg.PrefetchBatch)
	cfg.PrefetchPause = getenvDuration("PREFETCH_PAUSE", cfg.PrefetchPause)
	if warm := splitCSV(os.Getenv("WARM_COMPANIES")); len(warm) > 0 {
		cfg.WarmCompanies = warm
	}

	if cfg.TTL <= 0 {
		return cfg, errors.New("taxreport: ttl must be positive")
	}
	if cfg.LookbackYears <= 0 {
		return cfg, errors.New("taxreport: lookback years must be positive")
	}
	if cfg.BatchSize <= 0 || cfg.PrefetchBatch <= 0 {
		return cfg, errors.New("taxreport: batch sizes must be positive")
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
