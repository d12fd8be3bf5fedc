package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

func TestNewManager(t *testing.T) {
	mgr := setupTestManager(t)

	if mgr == nil {
		t.Fatal("NewManager returned nil")
	}

	if mgr.GetDB() == nil {
		t.Error("Database should be initialized")
	}

	if err := mgr.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewManager_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "vehicles.db")

	mgr, err := NewManager(dbPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	if mgr.db.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, mgr.db.Path())
	}
}

func TestManager_SaveSystemState(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	err := mgr.SaveSystemState(ctx, "test_key", "test_value")
	if err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}

	value, err := mgr.GetSystemState(ctx, "test_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}

	if value != "test_value" {
		t.Errorf("Expected 'test_value', got '%s'", value)
	}
}

func TestManager_GetSystemState_NotFound(t *testing.T) {
	mgr := setupTestManager(t)

	value, err := mgr.GetSystemState(context.Background(), "nonexistent_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}

	if value != "" {
		t.Errorf("Expected empty string for nonexistent key, got '%s'", value)
	}
}

func TestManager_SaveSystemState_Update(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	mgr.SaveSystemState(ctx, "key", "v1")
	mgr.SaveSystemState(ctx, "key", "v2")

	value, _ := mgr.GetSystemState(ctx, "key")
	if value != "v2" {
		t.Errorf("Expected 'v2', got '%s'", value)
	}
}

func TestManager_RecoverState(t *testing.T) {
	mgr := setupTestManager(t)
	ctx := context.Background()

	recovered, err := mgr.RecoverState(ctx)
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if recovered.Vehicles != 0 || recovered.LastEventAt != "" {
		t.Errorf("Expected empty store, got %+v", recovered)
	}

	ts := time.Date(2026, 3, 4, 10, 15, 0, 0, time.Local)
	if _, err := mgr.InsertVehicle(ctx, VehicleRecord{Timestamp: ts, VehicleType: "car", LocationID: "A"}); err != nil {
		t.Fatalf("InsertVehicle failed: %v", err)
	}
	mgr.SaveSystemState(ctx, "last_source", "rtsp:cam")

	recovered, err = mgr.RecoverState(ctx)
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if recovered.Vehicles != 1 {
		t.Errorf("Expected 1 vehicle, got %d", recovered.Vehicles)
	}
	if recovered.LastEventAt != "2026-03-04 10:15:00" {
		t.Errorf("Unexpected last event time %q", recovered.LastEventAt)
	}
	if recovered.SystemState["last_source"] != "rtsp:cam" {
		t.Errorf("Expected system state to be recovered, got %v", recovered.SystemState)
	}
}
