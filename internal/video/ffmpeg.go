package video

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

// FFmpegWrapper wraps FFmpeg functionality
type FFmpegWrapper struct {
	logger        *logger.Logger
	ffmpegPath    string
	hardwareAccel HardwareAcceleration
	mu            sync.RWMutex
}

// HardwareAcceleration represents available hardware decoding
type HardwareAcceleration struct {
	IntelQSV    bool // Intel Quick Sync Video via VAAPI
	NVIDIANVDEC bool // NVIDIA NVDEC (cuvid)
	Software    bool // Software fallback (always available)
}

// MJPEGOptions controls the MJPEG pipe command
type MJPEGOptions struct {
	InputFormat string // Forced demuxer, e.g. v4l2 for capture devices
	FPS         int    // Output rate; 0 keeps the source rate
	Width       int    // 0 keeps the source size
	Height      int
	Quality     int // ffmpeg -q:v scale, 2 (best) .. 31
	// Realtime paces file inputs at their native frame rate
	Realtime bool
}

// NewFFmpegWrapper creates a new FFmpeg wrapper
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:     log,
		ffmpegPath: "ffmpeg",
	}

	ffmpegPath, err := wrapper.detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath
	wrapper.hardwareAccel = wrapper.detectHardwareAcceleration()

	log.Info("FFmpeg wrapper initialized",
		"path", wrapper.ffmpegPath,
		"intel_qsv", wrapper.hardwareAccel.IntelQSV,
		"nvidia_nvdec", wrapper.hardwareAccel.NVIDIANVDEC,
	)

	return wrapper, nil
}

// detectFFmpeg finds FFmpeg executable
func (f *FFmpegWrapper) detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// detectHardwareAcceleration detects available hardware decoding
func (f *FFmpegWrapper) detectHardwareAcceleration() HardwareAcceleration {
	accel := HardwareAcceleration{Software: true}

	hwaccels, err := exec.Command(f.ffmpegPath, "-hide_banner", "-hwaccels").Output()
	if err != nil {
		return accel
	}
	out := string(hwaccels)

	if strings.Contains(out, "vaapi") && exec.Command("vainfo").Run() == nil {
		accel.IntelQSV = true
		f.logger.Info("Intel QSV (VAAPI) hardware decoding detected")
	}
	if strings.Contains(out, "cuda") && exec.Command("nvidia-smi").Run() == nil {
		accel.NVIDIANVDEC = true
		f.logger.Info("NVIDIA NVDEC hardware decoding detected")
	}

	return accel
}

// GetHardwareAcceleration returns available hardware acceleration
func (f *FFmpegWrapper) GetHardwareAcceleration() HardwareAcceleration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hardwareAccel
}

// Path returns the ffmpeg executable in use
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// MJPEGArgs builds the arguments that decode input and write a continuous
// MJPEG stream to stdout
func (f *FFmpegWrapper) MJPEGArgs(input string, opts MJPEGOptions) []string {
	return buildMJPEGArgs(input, opts, f.GetHardwareAcceleration())
}

func buildMJPEGArgs(input string, opts MJPEGOptions, hw HardwareAcceleration) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	switch {
	case hw.IntelQSV:
		args = append(args, "-hwaccel", "vaapi")
	case hw.NVIDIANVDEC:
		args = append(args, "-hwaccel", "cuda")
	}

	if strings.HasPrefix(input, "rtsp://") || strings.HasPrefix(input, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp", "-fflags", "nobuffer", "-flags", "low_delay")
	}
	if opts.Realtime {
		args = append(args, "-re")
	}
	if opts.InputFormat != "" {
		args = append(args, "-f", opts.InputFormat)
	}
	args = append(args, "-i", input, "-an")

	var filters []string
	if opts.FPS > 0 {
		filters = append(filters, "fps="+strconv.Itoa(opts.FPS))
	}
	if opts.Width > 0 && opts.Height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	quality := opts.Quality
	if quality < 2 || quality > 31 {
		quality = 5
	}
	args = append(args,
		"-f", "image2pipe", // Output as image stream
		"-vcodec", "mjpeg", // Use MJPEG codec
		"-q:v", strconv.Itoa(quality),
		"-", // Output to stdout
	)
	return args
}

// BuildCommand builds an FFmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// ValidateInput validates an input source (RTSP URL, file or device path)
func (f *FFmpegWrapper) ValidateInput(ctx context.Context, input string) error {
	args := []string{
		"-hide_banner",
		"-probesize", "32",
		"-analyzeduration", "1000000",
		"-i", input,
		"-frames:v", "1",
		"-f", "null",
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "Connection refused") ||
			strings.Contains(string(output), "No such file") ||
			strings.Contains(string(output), "Invalid data found") {
			return fmt.Errorf("invalid input: %s: %w", strings.TrimSpace(string(output)), err)
		}
		return fmt.Errorf("input validation failed: %w", err)
	}

	return nil
}
