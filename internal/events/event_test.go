package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id int64) CountingEvent {
	return CountingEvent{
		Timestamp:    time.Date(2026, 10, 19, 8, 30, 15, 500, time.Local),
		VehicleClass: "car",
		TrackID:      id,
		LocationID:   "Basni crossing",
	}
}

func TestCountingEvent_Record(t *testing.T) {
	e := testEvent(17)
	assert.Equal(t, []string{"2026-10-19 08:30:15", "car", "17", "Basni crossing"}, e.Record())
}

func TestCountingEvent_ToVehicleRecord(t *testing.T) {
	e := testEvent(17)
	rec := e.ToVehicleRecord()

	assert.Equal(t, "car", rec.VehicleType)
	assert.Equal(t, "Basni crossing", rec.LocationID)
	require.NotNil(t, rec.VehicleID)
	assert.Equal(t, int64(17), *rec.VehicleID)
	assert.True(t, rec.Timestamp.Equal(e.Timestamp))
}
