package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

// Tracker returns tracked detections for a frame
type Tracker interface {
	Track(ctx context.Context, frame *video.Frame) (*TrackResult, error)
}

// Client is an HTTP client for the detection and tracking service
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	confidence float64
	tracker    string
	streamID   string
}

// ClientConfig contains configuration for the tracking client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	Tracker             string
	StreamID            string
}

// NewClient creates a new tracking service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:     log,
		confidence: config.ConfidenceThreshold,
		tracker:    config.Tracker,
		streamID:   config.StreamID,
	}
}

// Track sends one frame to the tracker. Detections without a track id are
// dropped. Every failure is returned as a *GatewayFault.
func (c *Client) Track(ctx context.Context, frame *video.Frame) (*TrackResult, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, &GatewayFault{Err: video.ErrEmptyFrame}
	}

	req := TrackRequest{
		Image:               base64.StdEncoding.EncodeToString(frame.Data),
		ConfidenceThreshold: c.confidence,
		Tracker:             c.tracker,
		StreamID:            c.streamID,
		Persist:             true,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, &GatewayFault{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/api/v1/track", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &GatewayFault{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayFault{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayFault{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Tracking service returned error",
			"status", resp.StatusCode,
			"response", truncate(string(body), 256),
		)
		return nil, &GatewayFault{StatusCode: resp.StatusCode, Err: errors.New(truncate(string(body), 256))}
	}

	var trackResp TrackResponse
	if err := json.Unmarshal(body, &trackResp); err != nil {
		return nil, &GatewayFault{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	result := &TrackResult{
		Detections:    make([]Detection, 0, len(trackResp.Detections)),
		InferenceTime: time.Duration(trackResp.InferenceTimeMs * float64(time.Millisecond)),
	}
	for _, d := range trackResp.Detections {
		if d.TrackID == nil {
			result.Untracked++
			continue
		}
		result.Detections = append(result.Detections, Detection{
			TrackID:    *d.TrackID,
			ClassName:  d.ClassName,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			Box:        BoundingBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
		})
	}

	c.logger.Debug("Tracking completed",
		"frame_seq", frame.Seq,
		"detections", len(result.Detections),
		"untracked", result.Untracked,
		"inference_time_ms", trackResp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}

// HealthCheck checks if the tracking service is ready
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health/ready", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracking service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// ServiceURL returns the configured base URL
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
