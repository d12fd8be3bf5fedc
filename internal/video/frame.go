package video

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/draw"
	"image/jpeg"
	"time"
)

// DefaultJPEGQuality is used when a caller passes quality 0
const DefaultJPEGQuality = 80

// ErrEmptyFrame is returned for zero-byte frame payloads
var ErrEmptyFrame = errors.New("empty frame")

// Frame represents a single video frame.
// A published frame is never mutated; Clone gives callers a private copy
// of the encoded payload.
type Frame struct {
	Seq       uint64      // Monotonic sequence within a capture session
	Timestamp time.Time   // Capture time
	Image     image.Image // Decoded pixels, may be nil on consumer copies
	Data      []byte      // JPEG-encoded frame data
	Width     int
	Height    int
	Checksum  uint32 // CRC32 (IEEE) of Data
}

// NewFrame encodes img as JPEG and returns a sealed frame
func NewFrame(seq uint64, ts time.Time, img image.Image, quality int) (*Frame, error) {
	if img == nil {
		return nil, ErrEmptyFrame
	}
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Frame{
		Seq:       seq,
		Timestamp: ts,
		Image:     img,
		Data:      data,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Checksum:  crc32.ChecksumIEEE(data),
	}, nil
}

// DecodeFrame decodes a JPEG payload into a sealed frame
func DecodeFrame(seq uint64, ts time.Time, data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	b := img.Bounds()
	return &Frame{
		Seq:       seq,
		Timestamp: ts,
		Image:     img,
		Data:      data,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Checksum:  crc32.ChecksumIEEE(data),
	}, nil
}

// Verify reports whether Data still matches Checksum
func (f *Frame) Verify() bool {
	return f != nil && len(f.Data) > 0 && crc32.ChecksumIEEE(f.Data) == f.Checksum
}

// Clone returns a copy with its own Data slice. Image is shared since
// frames are not mutated after creation.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// EncodeJPEG encodes an image as JPEG
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ToRGBA returns a drawable copy of img
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
