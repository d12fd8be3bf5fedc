package state

import (
	"path/filepath"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	tmpDir := t.TempDir()

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := NewManager(filepath.Join(tmpDir, "db", "vehicle_data.db"), log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}
