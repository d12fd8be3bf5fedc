package events

import (
	"strconv"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
)

// TimestampLayout is the human-readable, second-precision timestamp used
// in the log and the store
const TimestampLayout = state.TimestampLayout

// CountingEvent records one vehicle crossing the boundary. It is created
// once per track id and never modified.
type CountingEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	VehicleClass string    `json:"vehicle_type"`
	TrackID      int64     `json:"vehicle_id"`
	LocationID   string    `json:"location_id"`
}

// ToVehicleRecord converts the event for the relational store
func (e CountingEvent) ToVehicleRecord() state.VehicleRecord {
	id := e.TrackID
	return state.VehicleRecord{
		Timestamp:   e.Timestamp,
		VehicleType: e.VehicleClass,
		VehicleID:   &id,
		LocationID:  e.LocationID,
	}
}

// Record returns the ordered log fields
func (e CountingEvent) Record() []string {
	return []string{
		e.Timestamp.Local().Format(TimestampLayout),
		e.VehicleClass,
		strconv.FormatInt(e.TrackID, 10),
		e.LocationID,
	}
}
