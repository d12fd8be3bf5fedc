package ai

import (
	"fmt"
	"image"
	"time"
)

// TrackRequest represents a request to the tracking service
type TrackRequest struct {
	Image               string  `json:"image"`                // Base64-encoded JPEG image
	ConfidenceThreshold float64 `json:"confidence_threshold"` // Detection floor
	Tracker             string  `json:"tracker,omitempty"`    // Tracker config, e.g. bytetrack.yaml
	StreamID            string  `json:"stream_id,omitempty"`  // Keeps track ids per stream
	Persist             bool    `json:"persist"`              // Keep tracks between calls
}

// WireDetection is one detection as returned by the service. TrackID is
// null when the tracker has not assigned an identity yet.
type WireDetection struct {
	TrackID    *int64  `json:"track_id"`
	ClassName  string  `json:"class_name"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// TrackResponse represents the response from the tracking service
type TrackResponse struct {
	Detections      []WireDetection `json:"detections"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
	FrameShape      []int           `json:"frame_shape,omitempty"` // [height, width]
}

// BoundingBox is an axis-aligned box in frame pixels
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// Center returns the box center
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rect converts the box to integer pixel coordinates
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Detection is a tracked detection with a persistent identity
type Detection struct {
	TrackID    int64
	ClassName  string
	ClassID    int
	Confidence float64
	Box        BoundingBox
}

// TrackResult is the tracker output for one frame
type TrackResult struct {
	Detections    []Detection
	Untracked     int // detections dropped for having no track id
	InferenceTime time.Duration
}

// GatewayFault reports a failed tracking call. The frame should be skipped.
type GatewayFault struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *GatewayFault) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracking service returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tracking service call failed: %v", e.Err)
}

func (e *GatewayFault) Unwrap() error { return e.Err }
