package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "COUNTER_"

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := loadWithOverrides(configPath)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

func loadWithOverrides(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := loadWithOverrides(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Log settings
	cfg.Log.Level = GetEnvWithDefault(EnvPrefix+"LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvWithDefault(EnvPrefix+"LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = GetEnvWithDefault(EnvPrefix+"LOG_OUTPUT", cfg.Log.Output)

	// Source settings
	cfg.Source.Descriptor = GetEnvWithDefault(EnvPrefix+"SOURCE", cfg.Source.Descriptor)
	cfg.Source.Backend = GetEnvWithDefault(EnvPrefix+"SOURCE_BACKEND", cfg.Source.Backend)
	cfg.Source.FrameStride = GetEnvInt(EnvPrefix+"FRAME_STRIDE", cfg.Source.FrameStride)
	cfg.Source.ProbeRTSP = GetEnvBool(EnvPrefix+"PROBE_RTSP", cfg.Source.ProbeRTSP)

	// Reconnect settings
	cfg.Reconnect.MaxReadFailures = GetEnvInt(EnvPrefix+"MAX_READ_FAILURES", cfg.Reconnect.MaxReadFailures)
	cfg.Reconnect.ReconnectDelay = GetEnvDuration(EnvPrefix+"RECONNECT_DELAY", cfg.Reconnect.ReconnectDelay)

	// Tracker settings
	cfg.Tracker.ServiceURL = GetEnvWithDefault(EnvPrefix+"TRACKER_URL", cfg.Tracker.ServiceURL)
	cfg.Tracker.ConfidenceThreshold = GetEnvFloat64(EnvPrefix+"TRACKER_CONFIDENCE", cfg.Tracker.ConfidenceThreshold)

	// Counting settings
	cfg.Counting.Policy = GetEnvWithDefault(EnvPrefix+"POLICY", cfg.Counting.Policy)
	if val := os.Getenv(EnvPrefix + "CLASSES"); val != "" {
		// Parse comma-separated class names
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cfg.Counting.Classes = classes
	}

	// Location settings
	cfg.Location.File = GetEnvWithDefault(EnvPrefix+"LOCATION_FILE", cfg.Location.File)
	cfg.Location.Default = GetEnvWithDefault(EnvPrefix+"LOCATION_DEFAULT", cfg.Location.Default)

	// Storage settings
	cfg.Storage.DatabasePath = GetEnvWithDefault(EnvPrefix+"DATABASE_PATH", cfg.Storage.DatabasePath)
	cfg.Storage.LogPath = GetEnvWithDefault(EnvPrefix+"LOG_PATH", cfg.Storage.LogPath)

	// Web settings
	cfg.Web.Enabled = GetEnvBool(EnvPrefix+"WEB_ENABLED", cfg.Web.Enabled)
	cfg.Web.Port = GetEnvInt(EnvPrefix+"WEB_PORT", cfg.Web.Port)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return result
}
