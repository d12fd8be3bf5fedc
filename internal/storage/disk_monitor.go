// Package storage watches the filesystem that holds the event store and log
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// DiskMonitor reports space usage of the filesystem holding the data dir
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	cacheDuration   time.Duration

	mu          sync.RWMutex
	lastCheck   time.Time
	cachedUsage *DiskUsage

	statfs func(path string) (*DiskUsage, error)
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	Path           string  `json:"path"`
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor creates a monitor for path. maxUsagePercent <= 0 means 90.
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) (*DiskMonitor, error) {
	if path == "" {
		return nil, fmt.Errorf("disk monitor path must not be empty")
	}
	if maxUsagePercent <= 0 || maxUsagePercent > 100 {
		maxUsagePercent = 90
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &DiskMonitor{
		path:            absPath,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		cacheDuration:   30 * time.Second,
		statfs:          statfs,
	}, nil
}

// Path returns the monitored directory
func (d *DiskMonitor) Path() string { return d.path }

// MaxUsagePercent returns the configured limit
func (d *DiskMonitor) MaxUsagePercent() float64 { return d.maxUsagePercent }

// GetUsage returns current disk usage, cached for a short while
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	if usage.UsagePercent >= d.maxUsagePercent {
		d.logger.Warn("Data disk nearly full",
			"path", d.path,
			"usage_percent", usage.UsagePercent,
			"max_usage_percent", d.maxUsagePercent,
		)
	}

	result := *usage
	return &result, nil
}

// IsDiskFull reports whether usage is at or above the limit
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent >= d.maxUsagePercent, nil
}

func statfs(path string) (*DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		Path:           path,
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}
