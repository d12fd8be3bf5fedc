package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

func int64Ptr(v int64) *int64 { return &v }

func setupTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		ServiceURL:          server.URL + "/",
		Timeout:             5 * time.Second,
		ConfidenceThreshold: 0.3,
		Tracker:             "bytetrack.yaml",
		StreamID:            "cam-1",
	}, logger.NewNopLogger())
}

func createTestFrame() *video.Frame {
	return &video.Frame{
		Seq:       7,
		Timestamp: time.Now(),
		Data:      []byte("fake-jpeg-data"),
		Width:     640,
		Height:    480,
	}
}

func TestClient_Track(t *testing.T) {
	var got TrackRequest
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/track", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(TrackResponse{
			Detections: []WireDetection{
				{TrackID: int64Ptr(12), ClassName: "car", ClassID: 2, Confidence: 0.91, X1: 100, Y1: 440, X2: 200, Y2: 500},
				{TrackID: nil, ClassName: "truck", ClassID: 7, Confidence: 0.66, X1: 10, Y1: 10, X2: 50, Y2: 50},
				{TrackID: int64Ptr(13), ClassName: "motorcycle", ClassID: 3, Confidence: 0.55, X1: 300, Y1: 300, X2: 320, Y2: 340},
			},
			InferenceTimeMs: 12.5,
		})
	})

	res, err := client.Track(context.Background(), createTestFrame())
	require.NoError(t, err)

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-jpeg-data")), got.Image)
	assert.Equal(t, 0.3, got.ConfidenceThreshold)
	assert.Equal(t, "bytetrack.yaml", got.Tracker)
	assert.Equal(t, "cam-1", got.StreamID)
	assert.True(t, got.Persist)

	require.Len(t, res.Detections, 2)
	assert.Equal(t, 1, res.Untracked)
	assert.Equal(t, int64(12), res.Detections[0].TrackID)
	assert.Equal(t, "car", res.Detections[0].ClassName)
	cx, cy := res.Detections[0].Box.Center()
	assert.Equal(t, 150.0, cx)
	assert.Equal(t, 470.0, cy)
	assert.Equal(t, int64(13), res.Detections[1].TrackID)
	assert.Equal(t, 12500*time.Microsecond, res.InferenceTime)
}

func TestClient_Track_EmptyDetections(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": null, "inference_time_ms": 3}`))
	})

	res, err := client.Track(context.Background(), createTestFrame())
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
	assert.Equal(t, 0, res.Untracked)
}

func TestClient_Track_ServerError(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := client.Track(context.Background(), createTestFrame())
	require.Error(t, err)

	var fault *GatewayFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, http.StatusServiceUnavailable, fault.StatusCode)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_Track_BadJSON(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"detections": [`))
	})

	_, err := client.Track(context.Background(), createTestFrame())
	var fault *GatewayFault
	assert.True(t, errors.As(err, &fault))
}

func TestClient_Track_Unreachable(t *testing.T) {
	client := NewClient(ClientConfig{ServiceURL: "http://127.0.0.1:1", Timeout: time.Second}, logger.NewNopLogger())

	_, err := client.Track(context.Background(), createTestFrame())
	var fault *GatewayFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, 0, fault.StatusCode)
}

func TestClient_Track_EmptyFrame(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent for an empty frame")
	})

	_, err := client.Track(context.Background(), &video.Frame{})
	assert.True(t, errors.Is(err, video.ErrEmptyFrame))
}

func TestClient_Track_ContextCancelled(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Track(ctx, createTestFrame())
	assert.Error(t, err)
}

func TestClient_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, client.HealthCheck(context.Background()))

	healthy.Store(false)
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestBoundingBox_Rect(t *testing.T) {
	b := BoundingBox{X1: 10.7, Y1: 20.2, X2: 110.9, Y2: 220.5}
	r := b.Rect()
	assert.Equal(t, 10, r.Min.X)
	assert.Equal(t, 20, r.Min.Y)
	assert.Equal(t, 110, r.Max.X)
	assert.Equal(t, 220, r.Max.Y)
}
