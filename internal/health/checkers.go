package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/storage"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// SystemChecker reports basic runtime figures
type SystemChecker struct{}

func (c *SystemChecker) Name() string {
	return "system"
}

func (c *SystemChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	check.Details["goroutines"] = runtime.NumGoroutine()
	check.Details["heap_alloc_bytes"] = ms.HeapAlloc

	check.Status = StatusHealthy
	check.Message = "System resources OK"
	return check
}

// Pinger is implemented by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks the vehicle database connection
type DatabaseChecker struct {
	db     Pinger
	dbPath string
}

func NewDatabaseChecker(db Pinger, dbPath string) *DatabaseChecker {
	return &DatabaseChecker{db: db, dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.dbPath

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not initialized"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// TrackerProbe is implemented by the tracking service client
type TrackerProbe interface {
	HealthCheck(ctx context.Context) error
	ServiceURL() string
}

// TrackerChecker checks the detection/tracking service. An unreachable
// tracker only degrades the service: frames are skipped until it returns.
type TrackerChecker struct {
	tracker TrackerProbe
}

func NewTrackerChecker(tracker TrackerProbe) *TrackerChecker {
	return &TrackerChecker{tracker: tracker}
}

func (c *TrackerChecker) Name() string {
	return "tracker"
}

func (c *TrackerChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.tracker.ServiceURL()

	if err := c.tracker.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Tracking service unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Tracking service is reachable"
	return check
}

// CaptureStatus is implemented by the capture supervisor
type CaptureStatus interface {
	Status() camera.SupervisorStatus
}

// CameraChecker maps the capture state onto a health status
type CameraChecker struct {
	capture CaptureStatus
}

func NewCameraChecker(capture CaptureStatus) *CameraChecker {
	return &CameraChecker{capture: capture}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	st := c.capture.Status()
	check.Details["source"] = st.Source
	check.Details["state"] = st.State
	check.Details["reconnects"] = st.Reconnects
	if !st.LastFrameAt.IsZero() {
		check.Details["last_frame_age"] = time.Since(st.LastFrameAt).Round(time.Millisecond).String()
	}

	switch st.State {
	case camera.StateLive.String():
		check.Status = StatusHealthy
		check.Message = "Camera is live"
	case camera.StateFailed.String():
		check.Status = StatusUnhealthy
		check.Message = "Camera failed to open: " + st.LastError
	default:
		check.Status = StatusDegraded
		check.Message = "Camera " + st.State
		if st.LastError != "" {
			check.Message += ": " + st.LastError
		}
	}
	return check
}

// StorageChecker checks that the event log directory is writable
type StorageChecker struct {
	dirs []string
}

func NewStorageChecker(dataDir, logPath string) *StorageChecker {
	return &StorageChecker{dirs: []string{dataDir, filepath.Dir(logPath)}}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	for _, dir := range c.dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Failed to create directory %s: %v", dir, err)
			return check
		}
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Directory %s not writable: %v", dir, err)
			return check
		}
		f.Close()
		os.Remove(f.Name())
		check.Details[dir] = "writable"
	}

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"
	return check
}

// DiskUsageSource reports usage of the data filesystem
type DiskUsageSource interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
	MaxUsagePercent() float64
}

// DiskChecker degrades when the data filesystem is nearly full
type DiskChecker struct {
	disk DiskUsageSource
}

func NewDiskChecker(disk DiskUsageSource) *DiskChecker {
	return &DiskChecker{disk: disk}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	usage, err := c.disk.GetUsage(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}

	check.Details["path"] = usage.Path
	check.Details["usage_percent"] = fmt.Sprintf("%.1f", usage.UsagePercent)
	check.Details["available_bytes"] = usage.AvailableBytes

	if usage.UsagePercent >= c.disk.MaxUsagePercent() {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% exceeds %.0f%%", usage.UsagePercent, c.disk.MaxUsagePercent())
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Disk space available"
	return check
}
