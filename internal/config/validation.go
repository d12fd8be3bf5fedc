package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Source settings
	if strings.TrimSpace(c.Source.Descriptor) == "" {
		errors = append(errors, "source.descriptor is required")
	}
	if c.Source.Backend != "opencv" && c.Source.Backend != "ffmpeg" {
		errors = append(errors, fmt.Sprintf("invalid source.backend: %s (must be: opencv or ffmpeg)", c.Source.Backend))
	}
	if c.Source.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("source.fps must be > 0, got: %d", c.Source.FPS))
	}
	if c.Source.DropStale < 0 {
		errors = append(errors, fmt.Sprintf("source.drop_stale must be >= 0, got: %d", c.Source.DropStale))
	}
	if c.Source.FrameStride <= 0 {
		errors = append(errors, fmt.Sprintf("source.frame_stride must be > 0, got: %d", c.Source.FrameStride))
	}
	if c.Source.JPEGQuality < 1 || c.Source.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("source.jpeg_quality must be between 1 and 100, got: %d", c.Source.JPEGQuality))
	}

	// Reconnect settings
	if c.Reconnect.MaxReadFailures <= 0 {
		errors = append(errors, fmt.Sprintf("reconnect.max_read_failures must be > 0, got: %d", c.Reconnect.MaxReadFailures))
	}
	if c.Reconnect.ReadRetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("reconnect.read_retry_delay must be >= 0, got: %v", c.Reconnect.ReadRetryDelay))
	}
	if c.Reconnect.ReconnectDelay < 0 {
		errors = append(errors, fmt.Sprintf("reconnect.reconnect_delay must be >= 0, got: %v", c.Reconnect.ReconnectDelay))
	}
	if c.Reconnect.OpenRetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("reconnect.open_retry_delay must be >= 0, got: %v", c.Reconnect.OpenRetryDelay))
	}
	if c.Reconnect.MaxOpenAttempts < 0 {
		errors = append(errors, fmt.Sprintf("reconnect.max_open_attempts must be >= 0, got: %d", c.Reconnect.MaxOpenAttempts))
	}

	// Tracker settings
	if c.Tracker.ServiceURL == "" {
		errors = append(errors, "tracker.service_url is required")
	}
	if c.Tracker.ConfidenceThreshold < 0 || c.Tracker.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("tracker.confidence_threshold must be between 0 and 1, got: %.2f", c.Tracker.ConfidenceThreshold))
	}
	if c.Tracker.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("tracker.timeout must be > 0, got: %v", c.Tracker.Timeout))
	}

	// Counting settings
	switch c.Counting.Policy {
	case "band":
		if c.Counting.Band.Offset < 0 {
			errors = append(errors, fmt.Sprintf("counting.band.offset must be >= 0, got: %d", c.Counting.Band.Offset))
		}
	case "segment":
		s := c.Counting.Segment
		if s.X1 == s.X2 && s.Y1 == s.Y2 {
			errors = append(errors, "counting.segment endpoints must differ")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid counting.policy: %s (must be: band or segment)", c.Counting.Policy))
	}
	if c.Counting.MinConfidence < 0 || c.Counting.MinConfidence > 1 {
		errors = append(errors, fmt.Sprintf("counting.min_confidence must be between 0 and 1, got: %.2f", c.Counting.MinConfidence))
	}
	if c.Counting.EvictAfterFrames < 0 {
		errors = append(errors, fmt.Sprintf("counting.evict_after_frames must be >= 0, got: %d", c.Counting.EvictAfterFrames))
	}

	// Location settings
	if c.Location.PollInterval <= 0 {
		errors = append(errors, fmt.Sprintf("location.poll_interval must be > 0, got: %v", c.Location.PollInterval))
	}
	if len(c.Location.Available) > 0 && !containsFold(c.Location.Available, c.Location.Default) {
		errors = append(errors, fmt.Sprintf("location.default %q is not in location.available", c.Location.Default))
	}

	// Storage settings
	if c.Storage.DatabasePath == "" {
		errors = append(errors, "storage.database_path is required")
	}
	if c.Storage.LogPath == "" {
		errors = append(errors, "storage.log_path is required")
	}
	if c.Storage.MaxDiskUsage <= 0 || c.Storage.MaxDiskUsage > 100 {
		errors = append(errors, fmt.Sprintf("storage.max_disk_usage must be between 0 and 100, got: %.1f", c.Storage.MaxDiskUsage))
	}

	// Web settings
	if c.Web.Enabled {
		if c.Web.Port <= 0 || c.Web.Port > 65535 {
			errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
		}
		if c.Web.StreamFPS <= 0 {
			errors = append(errors, fmt.Sprintf("web.stream_fps must be > 0, got: %d", c.Web.StreamFPS))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
