package events

import (
	"context"
	"fmt"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
)

// Storage writes counting events to the relational store
type Storage struct {
	stateManager *state.Manager
	logger       *logger.Logger
}

// NewStorage creates a new event storage
func NewStorage(stateManager *state.Manager, log *logger.Logger) *Storage {
	return &Storage{
		stateManager: stateManager,
		logger:       log,
	}
}

// SaveEvent inserts an event row
func (s *Storage) SaveEvent(ctx context.Context, event CountingEvent) error {
	id, err := s.stateManager.InsertVehicle(ctx, event.ToVehicleRecord())
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	s.logger.Debug("Event saved",
		"row_id", id,
		"vehicle_id", event.TrackID,
		"vehicle_type", event.VehicleClass,
		"location_id", event.LocationID,
	)

	return nil
}

// Close closes the underlying store
func (s *Storage) Close() error {
	return s.stateManager.Close()
}
