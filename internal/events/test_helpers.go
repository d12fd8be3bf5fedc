package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
)

func setupTestManager(t *testing.T) *state.Manager {
	tmpDir := t.TempDir()

	log, _ := logger.New(logger.LogConfig{Level: "info", Format: "text"})

	mgr, err := state.NewManager(filepath.Join(tmpDir, "vehicle_data.db"), log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}

var errForced = errors.New("forced failure")

// failingStore fails every save
type failingStore struct {
	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *failingStore) SaveEvent(ctx context.Context, e CountingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errForced
}

func (s *failingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// failingLog fails every append
type failingLog struct{ appends int }

func (l *failingLog) Append(e CountingEvent) error { l.appends++; return errForced }
func (l *failingLog) Close() error                 { return nil }
