package web

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

func TestServer_NewServer(t *testing.T) {
	env := setupTestServer(t)
	assert.Equal(t, "web-server", env.server.Name())
}

func TestServer_StartStop(t *testing.T) {
	env := setupTestServer(t)

	require.NoError(t, env.server.Start(context.Background()))
	addr := env.server.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "dev", body["version"])
	assert.Contains(t, body, "pipeline")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Stop(stopCtx))
}

func TestServer_Start_Disabled(t *testing.T) {
	server := NewServer(&config.WebConfig{Enabled: false}, logger.NewNopLogger())

	require.NoError(t, server.Start(context.Background()))
	assert.Empty(t, server.Addr())
	require.NoError(t, server.Stop(context.Background()))
}

func TestServer_Start_PortInUse(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.server.Start(context.Background()))
	defer env.server.Stop(context.Background())

	_, port, err := splitHostPort(env.server.Addr())
	require.NoError(t, err)

	other := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: port}, logger.NewNopLogger())
	assert.Error(t, other.Start(context.Background()))
}
