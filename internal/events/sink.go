package events

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// EventLog is the append-only side of the sink
type EventLog interface {
	Append(e CountingEvent) error
	Close() error
}

// EventStore is the relational side of the sink
type EventStore interface {
	SaveEvent(ctx context.Context, e CountingEvent) error
	Close() error
}

// SinkError reports which writes of a Record call failed. The event is lost
// only when both LogErr and StoreErr are set.
type SinkError struct {
	Event    CountingEvent
	LogErr   error
	StoreErr error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("failed to record vehicle %d: %v", e.Event.TrackID, e.Unwrap())
}

func (e *SinkError) Unwrap() error {
	return multierr.Combine(e.LogErr, e.StoreErr)
}

// Lost reports whether neither write succeeded
func (e *SinkError) Lost() bool {
	return e.LogErr != nil && e.StoreErr != nil
}

// Sink records counting events to the log and then the store. The writes
// are independent; there is no retry queue.
type Sink struct {
	log    EventLog
	store  EventStore
	logger *logger.Logger
}

// NewSink creates a sink over log and store
func NewSink(log EventLog, store EventStore, l *logger.Logger) *Sink {
	return &Sink{log: log, store: store, logger: l}
}

// Record appends the event to the log (synced to disk) and then inserts it
// into the store. A log failure does not prevent the store attempt.
func (s *Sink) Record(ctx context.Context, e CountingEvent) error {
	var sinkErr SinkError

	if err := s.log.Append(e); err != nil {
		sinkErr.LogErr = fmt.Errorf("event log: %w", err)
		s.logger.Error("Failed to append counting event to log",
			"vehicle_id", e.TrackID,
			"error", err,
		)
	}

	if err := s.store.SaveEvent(ctx, e); err != nil {
		sinkErr.StoreErr = fmt.Errorf("event store: %w", err)
		s.logger.Error("Failed to store counting event",
			"vehicle_id", e.TrackID,
			"error", err,
		)
	}

	if sinkErr.LogErr == nil && sinkErr.StoreErr == nil {
		return nil
	}
	sinkErr.Event = e
	if sinkErr.Lost() {
		s.logger.Error("Counting event lost", "vehicle_id", e.TrackID, "vehicle_type", e.VehicleClass)
	}
	return &sinkErr
}

// CloseLog flushes and closes the log
func (s *Sink) CloseLog() error {
	return s.log.Close()
}

// CloseStore closes the store
func (s *Sink) CloseStore() error {
	return s.store.Close()
}
