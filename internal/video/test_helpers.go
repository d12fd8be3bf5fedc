package video

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper(log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// solidImage returns a w x h image filled with c
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func testFrame(t *testing.T, seq uint64, shade uint8) *Frame {
	t.Helper()
	f, err := NewFrame(seq, time.Now(), solidImage(64, 48, color.RGBA{R: shade, G: shade, B: shade, A: 255}), 90)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	return f
}
