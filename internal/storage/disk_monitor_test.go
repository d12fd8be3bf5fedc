package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

func TestNewDiskMonitor(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 0, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 90.0, monitor.MaxUsagePercent())

	_, err = NewDiskMonitor("", 80, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestDiskMonitor_GetUsage(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
	require.NoError(t, err)

	usage, err := monitor.GetUsage(context.Background())
	require.NoError(t, err)
	assert.Greater(t, usage.TotalBytes, int64(0))
	assert.GreaterOrEqual(t, usage.AvailableBytes, int64(0))
	assert.GreaterOrEqual(t, usage.UsagePercent, 0.0)
	assert.LessOrEqual(t, usage.UsagePercent, 100.0)
}

func TestDiskMonitor_CachesUsage(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
	require.NoError(t, err)

	calls := 0
	monitor.statfs = func(path string) (*DiskUsage, error) {
		calls++
		return &DiskUsage{Path: path, TotalBytes: 100, UsedBytes: 50, AvailableBytes: 50, UsagePercent: 50}, nil
	}

	ctx := context.Background()
	_, err = monitor.GetUsage(ctx)
	require.NoError(t, err)
	usage, err := monitor.GetUsage(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 50.0, usage.UsagePercent)

	// Callers get a copy
	usage.UsagePercent = 99
	again, err := monitor.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, again.UsagePercent)
}

func TestDiskMonitor_IsDiskFull(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		full    bool
	}{
		{"below limit", 79.9, false},
		{"at limit", 80, true},
		{"above limit", 97, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor, err := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
			require.NoError(t, err)
			monitor.statfs = func(path string) (*DiskUsage, error) {
				return &DiskUsage{Path: path, UsagePercent: tt.percent}, nil
			}

			full, err := monitor.IsDiskFull(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.full, full)
		})
	}
}

func TestDiskMonitor_StatError(t *testing.T) {
	monitor, err := NewDiskMonitor(t.TempDir(), 80, logger.NewNopLogger())
	require.NoError(t, err)
	monitor.statfs = func(string) (*DiskUsage, error) { return nil, errors.New("statfs failed") }

	_, err = monitor.IsDiskFull(context.Background())
	assert.EqualError(t, err, "statfs failed")
}
