package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

// FFmpegSourceConfig contains settings for the ffmpeg pipe backend
type FFmpegSourceConfig struct {
	FPS         int
	Width       int
	Height      int
	Quality     int           // ffmpeg -q:v, 2..31
	ReadTimeout time.Duration // max wait for one frame
}

// FFmpegSource decodes any ffmpeg-readable input into JPEG frames through
// an image2pipe subprocess
type FFmpegSource struct {
	desc   Descriptor
	ffmpeg *video.FFmpegWrapper
	cfg    FFmpegSourceConfig
	logger *logger.Logger
}

// NewFFmpegSource creates an ffmpeg-backed source
func NewFFmpegSource(desc Descriptor, ff *video.FFmpegWrapper, cfg FFmpegSourceConfig, log *logger.Logger) *FFmpegSource {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	return &FFmpegSource{desc: desc, ffmpeg: ff, cfg: cfg, logger: log}
}

// Finite reports whether the input is a file
func (s *FFmpegSource) Finite() bool { return s.desc.Finite() }

func (s *FFmpegSource) String() string { return s.desc.String() }

// Open starts the ffmpeg process
func (s *FFmpegSource) Open(ctx context.Context) (Handle, error) {
	input := s.desc.Raw
	opts := video.MJPEGOptions{
		FPS:     s.cfg.FPS,
		Width:   s.cfg.Width,
		Height:  s.cfg.Height,
		Quality: s.cfg.Quality,
	}
	if s.desc.Kind == KindDevice {
		input = fmt.Sprintf("/dev/video%d", s.desc.Device)
		opts.InputFormat = "v4l2"
	}
	if s.desc.Finite() {
		// Files are not paced and never drop frames
		opts.FPS = 0
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := s.ffmpeg.BuildCommand(procCtx, s.ffmpeg.MJPEGArgs(input, opts))
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &CaptureFault{Source: s.String(), Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &CaptureFault{Source: s.String(), Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	h := newFFmpegHandle(s.String(), s.desc.Finite(), s.cfg.ReadTimeout, stdout, cancel, cmd.Wait)
	h.stderr = stderr

	s.logger.Debug("ffmpeg capture started", "source", s.String(), "pid", cmd.Process.Pid)
	return h, nil
}

// ffmpegHandle reads frames produced by one ffmpeg process
type ffmpegHandle struct {
	source  string
	finite  bool
	timeout time.Duration
	cancel  context.CancelFunc
	wait    func() error
	stderr  *tailBuffer

	frames chan []byte
	done   chan struct{}
	pumped chan struct{}
	// termErr and exitErr are written before frames is closed
	termErr error
	exitErr error

	seq       uint64
	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
	closeErr  error
}

func newFFmpegHandle(source string, finite bool, timeout time.Duration, r io.Reader, cancel context.CancelFunc, wait func() error) *ffmpegHandle {
	h := &ffmpegHandle{
		source:  source,
		finite:  finite,
		timeout: timeout,
		cancel:  cancel,
		wait:    wait,
		stderr:  &tailBuffer{limit: 4096},
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
		pumped:  make(chan struct{}),
	}
	go h.pump(video.NewMJPEGReader(r))
	return h
}

// pump moves images from the pipe to the frames channel. For live inputs
// only the newest image is kept so the reader never sees a backlog.
func (h *ffmpegHandle) pump(r *video.MJPEGReader) {
	defer close(h.pumped)
	defer close(h.frames)

	for {
		data, err := r.Next()
		if err != nil {
			h.termErr = err
			if errors.Is(err, io.EOF) {
				// stdout is closed, so the process is exiting
				h.exitErr = h.waitProcess()
			}
			return
		}

		if h.finite {
			select {
			case h.frames <- data:
			case <-h.done:
				return
			}
			continue
		}

		select {
		case h.frames <- data:
		default:
			select {
			case <-h.frames:
			default:
			}
			h.frames <- data
		}
	}
}

func (h *ffmpegHandle) Read(ctx context.Context) (*video.Frame, error) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case data, ok := <-h.frames:
		if !ok {
			return nil, h.terminalError()
		}
		h.seq++
		frame, err := video.DecodeFrame(h.seq, time.Now(), data)
		if err != nil {
			return nil, &ReadFault{Source: h.source, Err: err}
		}
		return frame, nil
	case <-timer.C:
		return nil, &ReadFault{Source: h.source, Err: fmt.Errorf("no frame within %s", h.timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitProcess reaps the process once; later calls return the same result
func (h *ffmpegHandle) waitProcess() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.wait()
	})
	return h.waitErr
}

// terminalError maps the end of the pipe to the error Read reports. Only a
// clean exit after EOF on a file is the end of the stream; a failed exit
// (missing file, unsupported input) is a ReadFault carrying ffmpeg's stderr.
func (h *ffmpegHandle) terminalError() error {
	err := h.termErr
	if errors.Is(err, io.EOF) && h.exitErr != nil {
		err = fmt.Errorf("ffmpeg exited: %w", h.exitErr)
	} else if h.finite && errors.Is(err, io.EOF) {
		return ErrEndOfStream
	}
	if msg := h.stderr.String(); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	return &ReadFault{Source: h.source, Err: err}
}

func (h *ffmpegHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.cancel()
		<-h.pumped
		// An exit status collected by the pump was already reported by Read
		if err := h.waitProcess(); err != nil && !isKilled(err) && h.exitErr == nil {
			h.closeErr = err
		}
	})
	return h.closeErr
}

func isKilled(err error) bool {
	return strings.Contains(err.Error(), "signal: killed") || errors.Is(err, context.Canceled)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
