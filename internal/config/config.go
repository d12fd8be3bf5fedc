package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log,omitempty"`
	Source    SourceConfig    `yaml:"source"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Counting  CountingConfig  `yaml:"counting"`
	Location  LocationConfig  `yaml:"location"`
	Storage   StorageConfig   `yaml:"storage"`
	Web       WebConfig       `yaml:"web"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SourceConfig describes the frame source
type SourceConfig struct {
	// Descriptor is an rtsp/http URL, a file path or an integer device index
	Descriptor  string        `yaml:"descriptor"`
	Backend     string        `yaml:"backend"` // opencv or ffmpeg
	FPS         int           `yaml:"fps"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// DropStale is the number of buffered frames grabbed and discarded
	// before each read of a live source
	DropStale   int  `yaml:"drop_stale"`
	ProbeRTSP   bool `yaml:"probe_rtsp"`
	FrameStride int  `yaml:"frame_stride"`
	JPEGQuality int  `yaml:"jpeg_quality"`
}

// ReconnectConfig contains reconnection supervisor configuration
type ReconnectConfig struct {
	MaxReadFailures int           `yaml:"max_read_failures"`
	ReadRetryDelay  time.Duration `yaml:"read_retry_delay"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	OpenRetryDelay  time.Duration `yaml:"open_retry_delay"`
	MaxOpenAttempts int           `yaml:"max_open_attempts"` // 0 = unbounded
}

// TrackerConfig contains detection/tracking service configuration
type TrackerConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	Tracker             string        `yaml:"tracker"` // e.g. bytetrack.yaml
	StreamID            string        `yaml:"stream_id"`
}

// CountingConfig contains crossing detection configuration
type CountingConfig struct {
	Policy  string   `yaml:"policy"` // band or segment
	Classes []string `yaml:"classes"`
	// MinConfidence is applied on top of the tracker threshold (inclusive)
	MinConfidence    float64    `yaml:"min_confidence"`
	Band             BandConfig `yaml:"band"`
	Segment          LineConfig `yaml:"segment"`
	EvictAfterFrames int        `yaml:"evict_after_frames"` // 0 disables eviction
}

// BandConfig is a horizontal counting band
type BandConfig struct {
	Position int `yaml:"position"`
	Offset   int `yaml:"offset"`
}

// LineConfig is a counting segment in pixel coordinates
type LineConfig struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// LocationConfig contains active-location register configuration
type LocationConfig struct {
	File         string        `yaml:"file"`
	Default      string        `yaml:"default"`
	Available    []string      `yaml:"available"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StorageConfig contains event persistence configuration
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	LogPath      string `yaml:"log_path"`
	// MaxDiskUsage is the data filesystem usage percent that degrades health
	MaxDiskUsage float64 `yaml:"max_disk_usage"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	StreamFPS int    `yaml:"stream_fps"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// Default config path if not provided
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	cfg.Web.Enabled = true
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.dev.yaml",
		"../config/config.yaml",
		"/etc/traffic-counter/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Source.Backend == "" {
		c.Source.Backend = "opencv"
	}
	if c.Source.FPS == 0 {
		c.Source.FPS = 25
	}
	if c.Source.Width == 0 {
		c.Source.Width = 640
	}
	if c.Source.Height == 0 {
		c.Source.Height = 480
	}
	if c.Source.OpenTimeout == 0 {
		c.Source.OpenTimeout = 10 * time.Second
	}
	if c.Source.ReadTimeout == 0 {
		c.Source.ReadTimeout = 5 * time.Second
	}
	if c.Source.FrameStride == 0 {
		c.Source.FrameStride = 2
	}
	if c.Source.JPEGQuality == 0 {
		c.Source.JPEGQuality = 80
	}

	if c.Reconnect.MaxReadFailures == 0 {
		c.Reconnect.MaxReadFailures = 5
	}
	if c.Reconnect.ReadRetryDelay == 0 {
		c.Reconnect.ReadRetryDelay = 2 * time.Second
	}
	if c.Reconnect.ReconnectDelay == 0 {
		c.Reconnect.ReconnectDelay = 5 * time.Second
	}
	if c.Reconnect.OpenRetryDelay == 0 {
		c.Reconnect.OpenRetryDelay = 5 * time.Second
	}

	if c.Tracker.ServiceURL == "" {
		c.Tracker.ServiceURL = "http://localhost:8080"
	}
	if c.Tracker.Timeout == 0 {
		c.Tracker.Timeout = 10 * time.Second
	}
	if c.Tracker.ConfidenceThreshold == 0 {
		c.Tracker.ConfidenceThreshold = 0.3
	}
	if c.Tracker.Tracker == "" {
		c.Tracker.Tracker = "bytetrack.yaml"
	}
	if c.Tracker.StreamID == "" {
		c.Tracker.StreamID = "default"
	}

	if c.Counting.Policy == "" {
		c.Counting.Policy = "band"
	}
	if len(c.Counting.Classes) == 0 {
		c.Counting.Classes = []string{"car", "motorcycle", "truck"}
	}
	if c.Counting.MinConfidence == 0 {
		c.Counting.MinConfidence = 0.5
	}
	if c.Counting.Band.Position == 0 {
		c.Counting.Band.Position = 470
	}
	if c.Counting.Band.Offset == 0 {
		c.Counting.Band.Offset = 20
	}
	if c.Counting.Segment == (LineConfig{}) {
		c.Counting.Segment = LineConfig{X1: 100, Y1: 180, X2: 700, Y2: 50}
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "vehicle_data.db")
	}
	if c.Storage.LogPath == "" {
		c.Storage.LogPath = filepath.Join(c.Storage.DataDir, "logs", "vehicle_log_all.csv")
	}
	if c.Storage.MaxDiskUsage == 0 {
		c.Storage.MaxDiskUsage = 90
	}

	if c.Location.File == "" {
		c.Location.File = filepath.Join(c.Storage.DataDir, "current_camera_location.txt")
	}
	if c.Location.Default == "" {
		c.Location.Default = "Basni crossing"
	}
	if c.Location.PollInterval == 0 {
		c.Location.PollInterval = 5 * time.Second
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5000
	}
	if c.Web.StreamFPS == 0 {
		c.Web.StreamFPS = 15
	}
}
