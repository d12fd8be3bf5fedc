// Package opencv implements the camera source on top of OpenCV (gocv)
package opencv

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

// ffmpegOptionsEnv is read by OpenCV's FFmpeg backend when a capture opens
const ffmpegOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"

// Config contains capture hints
type Config struct {
	FPS         int
	Width       int
	Height      int
	OpenTimeout time.Duration
	ReadTimeout time.Duration
	// DropStale frames are grabbed and discarded before each read on push
	// sources
	DropStale   int
	JPEGQuality int
}

// Source opens gocv captures for one descriptor
type Source struct {
	desc   camera.Descriptor
	cfg    Config
	logger *logger.Logger
}

// NewSource creates an OpenCV-backed source
func NewSource(desc camera.Descriptor, cfg Config, log *logger.Logger) *Source {
	return &Source{desc: desc, cfg: cfg, logger: log}
}

func (s *Source) Finite() bool { return s.desc.Finite() }

func (s *Source) String() string { return s.desc.String() }

// openMu serialises opens because capture options go through the process
// environment
var openMu sync.Mutex

// Open creates a VideoCapture and applies the buffer and size hints
func (s *Source) Open(ctx context.Context) (camera.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if s.desc.Kind == camera.KindDevice {
		vc, err = gocv.OpenVideoCapture(s.desc.Device)
	} else {
		openMu.Lock()
		if opts := captureOptions(s.desc, s.cfg); opts != "" {
			os.Setenv(ffmpegOptionsEnv, opts)
		}
		vc, err = gocv.OpenVideoCaptureWithAPI(s.desc.Raw, gocv.VideoCaptureFFmpeg)
		openMu.Unlock()
	}
	if err != nil {
		return nil, &camera.CaptureFault{Source: s.String(), Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &camera.CaptureFault{Source: s.String(), Err: fmt.Errorf("capture did not open")}
	}

	if s.desc.Push() {
		vc.Set(gocv.VideoCaptureBufferSize, 1)
	}
	if s.cfg.FPS > 0 && !s.desc.Finite() {
		vc.Set(gocv.VideoCaptureFPS, float64(s.cfg.FPS))
	}
	if s.desc.Kind == camera.KindDevice && s.cfg.Width > 0 && s.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
	}

	s.logger.Debug("OpenCV capture opened",
		"source", s.String(),
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)

	return &handle{
		vc:      vc,
		mat:     gocv.NewMat(),
		source:  s.String(),
		finite:  s.desc.Finite(),
		drop:    dropCount(s.desc, s.cfg.DropStale),
		quality: s.cfg.JPEGQuality,
	}, nil
}

// captureOptions builds the FFmpeg option string: key;value pairs joined by |
func captureOptions(desc camera.Descriptor, cfg Config) string {
	var opts string
	add := func(k, v string) {
		if opts != "" {
			opts += "|"
		}
		opts += k + ";" + v
	}
	if desc.Kind == camera.KindRTSP {
		add("rtsp_transport", "tcp")
	}
	if desc.Kind == camera.KindRTSP || desc.Kind == camera.KindHTTP {
		if cfg.OpenTimeout > 0 {
			add("stimeout", fmt.Sprint(cfg.OpenTimeout.Microseconds()))
		}
		if cfg.ReadTimeout > 0 {
			add("rw_timeout", fmt.Sprint(cfg.ReadTimeout.Microseconds()))
		}
	}
	return opts
}

func dropCount(desc camera.Descriptor, n int) int {
	if !desc.Push() || n < 0 {
		return 0
	}
	return n
}

type handle struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	mat     gocv.Mat
	source  string
	finite  bool
	drop    int
	quality int
	seq     uint64
	closed  bool
}

func (h *handle) Read(ctx context.Context) (*video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, &camera.ReadFault{Source: h.source, Err: camera.ErrClosed}
	}

	if h.drop > 0 {
		// Discard whatever queued up while the previous frame was processed
		h.vc.Grab(h.drop)
	}

	if ok := h.vc.Read(&h.mat); !ok || h.mat.Empty() {
		if h.finite {
			return nil, camera.ErrEndOfStream
		}
		return nil, &camera.ReadFault{Source: h.source, Err: fmt.Errorf("empty frame")}
	}

	img, err := h.mat.ToImage()
	if err != nil {
		return nil, &camera.ReadFault{Source: h.source, Err: err}
	}
	h.seq++
	frame, err := video.NewFrame(h.seq, time.Now(), img, h.quality)
	if err != nil {
		return nil, &camera.ReadFault{Source: h.source, Err: err}
	}
	return frame, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.mat.Close()
	return h.vc.Close()
}
