package web

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/counting"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/location"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

type fakePipeline struct {
	st pipeline.Status
}

func (f *fakePipeline) Status() pipeline.Status { return f.st }

type testEnv struct {
	server   *Server
	stateMgr *state.Manager
	register *location.Register
	shared   *video.SharedFrame
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(filepath.Join(dir, "vehicle_data.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { stateMgr.Close() })

	register, err := location.NewRegister(location.Config{
		File:      filepath.Join(dir, "current_camera_location.txt"),
		Default:   "Basni crossing",
		Available: []string{"Basni crossing", "Paota circle"},
	}, log)
	require.NoError(t, err)

	cfg := &config.WebConfig{
		Enabled:   true,
		Host:      "127.0.0.1",
		Port:      0,
		StreamFPS: 50,
	}
	server := NewServer(cfg, log)
	shared := video.NewSharedFrame()
	server.SetFrameSource(shared)
	server.SetLocations(register)
	server.SetTrafficStore(stateMgr, []string{"car", "motorcycle", "truck"})
	server.SetPipeline(&fakePipeline{st: pipeline.Status{
		Running:  true,
		Location: "Basni crossing",
		Camera:   camera.SupervisorStatus{Source: "file:test.mp4", State: "LIVE", Live: true},
		Counting: counting.Stats{Policy: "band", Total: 2, Totals: map[string]int{"car": 2}},
	}})

	server.setupRoutes()

	return &testEnv{server: server, stateMgr: stateMgr, register: register, shared: shared}
}

func splitHostPort(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	return host, port, err
}

// do runs one request against the router
func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	env.server.router.ServeHTTP(w, req)
	return w
}
