package camera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

var (
	// ErrNoSource is returned when no frame source descriptor is configured
	ErrNoSource = errors.New("no frame source configured")
	// ErrEndOfStream signals that a finite source has no more frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrClosed is returned by a supervisor after Close
	ErrClosed = errors.New("capture closed")
)

// Kind classifies a frame source descriptor
type Kind string

const (
	KindRTSP   Kind = "rtsp"
	KindHTTP   Kind = "http"
	KindFile   Kind = "file"
	KindDevice Kind = "device"
)

// Descriptor identifies a frame source
type Descriptor struct {
	Raw    string
	Kind   Kind
	Device int // device index when Kind is KindDevice
}

// ParseDescriptor classifies a descriptor string: an rtsp:// or http(s)://
// URL, an integer device index, a /dev/videoN path or a file path
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, ErrNoSource
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Descriptor{}, fmt.Errorf("invalid device index %d", n)
		}
		return Descriptor{Raw: s, Kind: KindDevice, Device: n}, nil
	}

	if strings.HasPrefix(s, "/dev/video") {
		if n, err := strconv.Atoi(strings.TrimPrefix(s, "/dev/video")); err == nil {
			return Descriptor{Raw: s, Kind: KindDevice, Device: n}, nil
		}
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Descriptor{}, fmt.Errorf("invalid source URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "rtsp", "rtsps":
			return Descriptor{Raw: s, Kind: KindRTSP}, nil
		case "http", "https":
			return Descriptor{Raw: s, Kind: KindHTTP}, nil
		case "file":
			return Descriptor{Raw: u.Path, Kind: KindFile}, nil
		default:
			return Descriptor{}, fmt.Errorf("unsupported source scheme %q", u.Scheme)
		}
	}

	return Descriptor{Raw: s, Kind: KindFile}, nil
}

// Finite reports whether the source ends (video files)
func (d Descriptor) Finite() bool {
	return d.Kind == KindFile
}

// Push reports whether frames arrive at the producer's pace and queue up
// when the reader falls behind (network streams and devices)
func (d Descriptor) Push() bool {
	return d.Kind != KindFile
}

// Redacted returns the descriptor with any URL password masked
func (d Descriptor) Redacted() string {
	if d.Kind != KindRTSP && d.Kind != KindHTTP {
		return d.Raw
	}
	u, err := url.Parse(d.Raw)
	if err != nil {
		return d.Raw
	}
	return u.Redacted()
}

func (d Descriptor) String() string {
	return string(d.Kind) + ":" + d.Redacted()
}

// Handle is an open capture
type Handle interface {
	// Read returns the next frame. Transient problems are reported as
	// *ReadFault; a finite source returns ErrEndOfStream when exhausted.
	Read(ctx context.Context) (*video.Frame, error)
	Close() error
}

// Source opens captures for one descriptor
type Source interface {
	// Open returns a handle or a *CaptureFault
	Open(ctx context.Context) (Handle, error)
	Finite() bool
	String() string
}

// CaptureFault reports a failure to open a source
type CaptureFault struct {
	Source string
	Err    error
}

func (e *CaptureFault) Error() string {
	return fmt.Sprintf("capture fault on %s: %v", e.Source, e.Err)
}

func (e *CaptureFault) Unwrap() error { return e.Err }

// ReadFault reports a transient failure reading a frame from an open source
type ReadFault struct {
	Source string
	Err    error
}

func (e *ReadFault) Error() string {
	return fmt.Sprintf("read fault on %s: %v", e.Source, e.Err)
}

func (e *ReadFault) Unwrap() error { return e.Err }
