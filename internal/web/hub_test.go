package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
)

func dialEvents(t *testing.T, env *testEnv) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(env.server.router)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func TestHub_Broadcast(t *testing.T) {
	env := setupTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.hub.Run(ctx)

	conn, closeFn := dialEvents(t, env)
	defer closeFn()

	require.Eventually(t, func() bool { return env.server.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.server.hub.Broadcast([]byte(`{"hello":"world"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg))
}

func TestHub_ClientRemovedOnDisconnect(t *testing.T) {
	env := setupTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.hub.Run(ctx)

	conn, closeFn := dialEvents(t, env)
	defer closeFn()
	require.Eventually(t, func() bool { return env.server.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return env.server.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ForwardsBusEvents(t *testing.T) {
	env := setupTestServer(t)
	bus := service.NewEventBus(10)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.hub.Run(ctx)
	go env.server.forwardEvents(ctx, bus)

	conn, closeFn := dialEvents(t, env)
	defer closeFn()
	require.Eventually(t, func() bool { return env.server.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Not forwarded
	bus.Publish(service.Event{Type: service.EventTypeServiceStarted, Source: "manager"})
	bus.Publish(service.Event{
		Type:   service.EventTypeVehicleCounted,
		Source: "pipeline",
		Data: map[string]interface{}{
			"vehicle_type": "car",
			"vehicle_id":   4,
			"location_id":  "Basni crossing",
		},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, string(service.EventTypeVehicleCounted), ev.Type)
	assert.Equal(t, "car", ev.Data["vehicle_type"])
}

func TestHub_RegisterAfterStop(t *testing.T) {
	env := setupTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	go env.server.hub.Run(ctx)
	cancel()

	select {
	case <-env.server.hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// Must not block
	env.server.hub.Unregister(nil)
	env.server.hub.Broadcast([]byte("x"))
}
