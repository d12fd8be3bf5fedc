package video

import (
	"bytes"
	"errors"
	"io"
)

const (
	mjpegReadChunk   = 32 * 1024
	mjpegMaxFrameLen = 16 * 1024 * 1024
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ErrFrameTooLarge is returned when no end-of-image marker is found
// within the frame size limit
var ErrFrameTooLarge = errors.New("mjpeg frame exceeds size limit")

// MJPEGReader splits a raw concatenated MJPEG byte stream (as written by
// ffmpeg image2pipe) into individual JPEG images
type MJPEGReader struct {
	r      io.Reader
	buf    []byte
	chunk  []byte
	maxLen int
}

// NewMJPEGReader creates a reader over r
func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{
		r:      r,
		buf:    make([]byte, 0, 1024*1024),
		chunk:  make([]byte, mjpegReadChunk),
		maxLen: mjpegMaxFrameLen,
	}
}

// Next returns the next complete JPEG image. It returns io.EOF once the
// stream ends; a trailing partial image yields io.ErrUnexpectedEOF.
func (m *MJPEGReader) Next() ([]byte, error) {
	for {
		if frame := m.extract(); frame != nil {
			return frame, nil
		}
		if len(m.buf) > m.maxLen {
			m.buf = m.buf[:0]
			return nil, ErrFrameTooLarge
		}

		n, err := m.r.Read(m.chunk)
		if n > 0 {
			m.buf = append(m.buf, m.chunk[:n]...)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if bytes.Contains(m.buf, jpegSOI) {
					m.buf = m.buf[:0]
					return nil, io.ErrUnexpectedEOF
				}
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// extract removes and returns the first SOI..EOI span in the buffer
func (m *MJPEGReader) extract() []byte {
	start := bytes.Index(m.buf, jpegSOI)
	if start < 0 {
		// Keep a possible split marker byte
		if n := len(m.buf); n > 0 && m.buf[n-1] == 0xFF {
			m.buf = append(m.buf[:0], 0xFF)
		} else {
			m.buf = m.buf[:0]
		}
		return nil
	}

	end := bytes.Index(m.buf[start+2:], jpegEOI)
	if end < 0 {
		if start > 0 {
			m.buf = append(m.buf[:0], m.buf[start:]...)
		}
		return nil
	}
	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, m.buf[start:end])
	m.buf = append(m.buf[:0], m.buf[end:]...)
	return frame
}
