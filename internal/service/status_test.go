package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceStatus_Transitions(t *testing.T) {
	status := NewServiceStatus("pipeline")
	assert.Equal(t, "pipeline", status.Name)
	assert.Equal(t, StatusStopped, status.GetStatus())
	assert.False(t, status.IsRunning())

	status.SetStatus(StatusStarting)
	assert.Equal(t, StatusStarting, status.GetStatus())
	assert.False(t, status.IsRunning())

	status.SetError(errors.New("capture closed"))
	assert.Equal(t, StatusError, status.GetStatus())
	assert.EqualError(t, status.GetError(), "capture closed")

	// Running clears the previous error
	status.SetStatus(StatusRunning)
	assert.True(t, status.IsRunning())
	assert.NoError(t, status.GetError())

	status.SetStatus(StatusStopped)
	assert.False(t, status.IsRunning())
	assert.Zero(t, status.GetUptime())
}

func TestServiceStatus_Uptime(t *testing.T) {
	status := NewServiceStatus("web-server")
	assert.Zero(t, status.GetUptime())

	status.SetStatus(StatusRunning)
	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, status.GetUptime(), 20*time.Millisecond)
}

func TestServiceStatus_Snapshot(t *testing.T) {
	status := NewServiceStatus("location")
	status.SetStatus(StatusRunning)
	status.SetError(errors.New("location file unreadable"))

	snap := status.Snapshot()
	assert.Equal(t, "location", snap.Name)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "location file unreadable", snap.Error)
	assert.False(t, snap.StartedAt.IsZero())
	assert.Zero(t, snap.Uptime)
}

func TestServiceStatus_ConcurrentAccess(t *testing.T) {
	status := NewServiceStatus("pipeline")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				status.SetStatus(StatusRunning)
				status.SetStatus(StatusStopped)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				status.GetStatus()
				status.GetUptime()
				status.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.NotEqual(t, StatusError, status.GetStatus())
}
