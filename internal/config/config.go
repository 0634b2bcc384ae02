// Package config loads the engine's configuration (§6.3): env-var driven
// with explicit defaults, following the teacher's envutil/temporalx.Config
// "trim, parse, fall back to default" shape, with an optional YAML file
// layer loaded first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the enumerated option table of §6.3.
type Config struct {
	HostID                 string        `yaml:"host_id"`
	LeaseDuration          time.Duration `yaml:"lease_duration"`
	LeaseRenewalInterval   time.Duration `yaml:"lease_renewal_interval"`
	PollingInterval        time.Duration `yaml:"polling_interval"`
	MaxConcurrentInstances int           `yaml:"max_concurrent_instances"`
	MaxInputSize           int           `yaml:"max_input_size"`
	StorageBackend         string        `yaml:"storage_backend"`
}

func defaults() Config {
	return Config{
		LeaseDuration:          5 * time.Minute,
		LeaseRenewalInterval:   150 * time.Second, // ~half of lease_duration, per §5
		PollingInterval:        100 * time.Millisecond,
		MaxConcurrentInstances: 16,
		MaxInputSize:           256 * 1024,
		StorageBackend:         "sqlite",
	}
}

// Load builds a Config from an optional YAML file layer (configPath, may
// be empty) followed by environment-variable overrides. Every field has
// the §6.3 default so a bare Load() with no file and no env vars is a
// valid, runnable single-host configuration.
func Load(configPath string) (Config, error) {
	cfg := defaults()

	if strings.TrimSpace(configPath) != "" {
		b, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	cfg.HostID = envString("ENGINE_HOST_ID", cfg.HostID)
	if strings.TrimSpace(cfg.HostID) == "" {
		cfg.HostID = fallbackHostID()
	}
	cfg.LeaseDuration = envDuration("ENGINE_LEASE_DURATION", cfg.LeaseDuration)
	cfg.LeaseRenewalInterval = envDuration("ENGINE_LEASE_RENEWAL_INTERVAL", cfg.LeaseRenewalInterval)
	cfg.PollingInterval = envDuration("ENGINE_POLLING_INTERVAL", cfg.PollingInterval)
	cfg.MaxConcurrentInstances = envInt("ENGINE_MAX_CONCURRENT_INSTANCES", cfg.MaxConcurrentInstances)
	cfg.MaxInputSize = envInt("ENGINE_MAX_INPUT_SIZE", cfg.MaxInputSize)
	cfg.StorageBackend = envString("ENGINE_STORAGE_BACKEND", cfg.StorageBackend)

	if cfg.LeaseDuration <= cfg.PollingInterval {
		return cfg, fmt.Errorf("config: lease_duration (%s) must be greater than polling_interval (%s)", cfg.LeaseDuration, cfg.PollingInterval)
	}
	if cfg.LeaseRenewalInterval >= cfg.LeaseDuration {
		return cfg, fmt.Errorf("config: lease_renewal_interval (%s) must be less than lease_duration (%s)", cfg.LeaseRenewalInterval, cfg.LeaseDuration)
	}
	return cfg, nil
}

func fallbackHostID() string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		h = "host"
	}
	return fmt.Sprintf("%s-%d", h, os.Getpid())
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
