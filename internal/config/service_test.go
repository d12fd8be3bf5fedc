package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"gopkg.in/yaml.v3"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func validTestConfig(dir string) *Config {
	cfg := &Config{}
	cfg.Storage.DataDir = dir
	cfg.Source.Descriptor = "rtsp://camera.local/stream"
	cfg.setDefaults()
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, validTestConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg := svc.Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Source.Descriptor != "rtsp://camera.local/stream" {
		t.Errorf("Expected descriptor from file, got %q", cfg.Source.Descriptor)
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("source:\n  descriptor: traffic.mp4\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Reconnect.MaxReadFailures != 5 {
		t.Errorf("Expected max_read_failures 5, got %d", cfg.Reconnect.MaxReadFailures)
	}
	if cfg.Reconnect.ReadRetryDelay != 2*time.Second {
		t.Errorf("Expected read_retry_delay 2s, got %v", cfg.Reconnect.ReadRetryDelay)
	}
	if cfg.Reconnect.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected reconnect_delay 5s, got %v", cfg.Reconnect.ReconnectDelay)
	}
	if cfg.Location.PollInterval != 5*time.Second {
		t.Errorf("Expected poll_interval 5s, got %v", cfg.Location.PollInterval)
	}
	if cfg.Counting.Band.Position != 470 || cfg.Counting.Band.Offset != 20 {
		t.Errorf("Unexpected band defaults: %+v", cfg.Counting.Band)
	}
	if cfg.Source.FrameStride != 2 {
		t.Errorf("Expected frame_stride 2, got %d", cfg.Source.FrameStride)
	}
	if !cfg.Web.Enabled {
		t.Error("Expected web to be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validTestConfig(t.TempDir())
	cfg.Source.Descriptor = ""
	cfg.Counting.Policy = "zone"
	cfg.Reconnect.MaxReadFailures = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"source.descriptor", "counting.policy", "reconnect.max_read_failures"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_DefaultLocationMustBeAvailable(t *testing.T) {
	cfg := validTestConfig(t.TempDir())
	cfg.Location.Available = []string{"Basni Crossing", "Rai ka bagh crossing"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Case-insensitive match should validate: %v", err)
	}

	cfg.Location.Default = "Elsewhere"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error for default location outside the list")
	}
}

func TestService_ReloadAndWatch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := validTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	var gotOld, gotNew *Config
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		gotOld, gotNew = oldConfig, newConfig
		return nil
	})

	cfg.Log.Level = "debug"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if svc.Get().Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", svc.Get().Log.Level)
	}
	if gotOld == nil || gotNew == nil {
		t.Fatal("Watcher should receive both old and new config")
	}
	if gotOld.Log.Level != "info" {
		t.Errorf("Expected old log level 'info', got %s", gotOld.Log.Level)
	}
}

func TestService_ReloadInvalidKeepsPrevious(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := validTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Counting.Policy = "zone"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload error")
	}
	if svc.Get().Counting.Policy != "band" {
		t.Errorf("Expected previous policy to survive, got %s", svc.Get().Counting.Policy)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, validTestConfig(tmpDir))

	t.Setenv("COUNTER_LOG_LEVEL", "debug")
	t.Setenv("COUNTER_SOURCE", "/videos/traffic.mp4")
	t.Setenv("COUNTER_TRACKER_URL", "http://tracker:9090")
	t.Setenv("COUNTER_CLASSES", "car, bus")
	t.Setenv("COUNTER_RECONNECT_DELAY", "7s")

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	got := svc.Get()
	if got.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug' from env, got %s", got.Log.Level)
	}
	if got.Source.Descriptor != "/videos/traffic.mp4" {
		t.Errorf("Expected descriptor from env, got %s", got.Source.Descriptor)
	}
	if got.Tracker.ServiceURL != "http://tracker:9090" {
		t.Errorf("Expected tracker URL from env, got %s", got.Tracker.ServiceURL)
	}
	if len(got.Counting.Classes) != 2 || got.Counting.Classes[1] != "bus" {
		t.Errorf("Expected classes [car bus], got %v", got.Counting.Classes)
	}
	if got.Reconnect.ReconnectDelay != 7*time.Second {
		t.Errorf("Expected reconnect delay 7s, got %v", got.Reconnect.ReconnectDelay)
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("COUNTER_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COUNTER_TEST_DOTENV", "")
	os.Unsetenv("COUNTER_TEST_DOTENV")

	if err := LoadDotEnv(envPath, filepath.Join(tmpDir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("COUNTER_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected 'from-file', got %q", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue    string
		defaultVal  bool
		expected    bool
		description string
	}{
		{"", false, false, "empty env with false default"},
		{"", true, true, "empty env with true default"},
		{"true", false, true, "true string"},
		{"1", false, true, "1 string"},
		{"yes", false, true, "yes string"},
		{"on", false, true, "on string"},
		{"false", true, false, "false string"},
		{"0", true, false, "0 string"},
		{"off", true, false, "off string"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			result := GetEnvBool("TEST_BOOL", tt.defaultVal)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvNumeric(t *testing.T) {
	t.Setenv("TEST_INT", "100")
	if got := GetEnvInt("TEST_INT", 42); got != 100 {
		t.Errorf("Expected 100, got %d", got)
	}
	t.Setenv("TEST_INT", "invalid")
	if got := GetEnvInt("TEST_INT", 42); got != 42 {
		t.Errorf("Expected 42 for invalid value, got %d", got)
	}

	t.Setenv("TEST_FLOAT", "2.71")
	if got := GetEnvFloat64("TEST_FLOAT", 3.14); got != 2.71 {
		t.Errorf("Expected 2.71, got %f", got)
	}
	t.Setenv("TEST_DURATION", "invalid")
	if got := GetEnvDuration("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Errorf("Expected 5s for invalid value, got %v", got)
	}
}
