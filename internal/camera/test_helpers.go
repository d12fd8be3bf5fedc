package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

var errFakeRead = errors.New("fake read failure")

// readStep scripts one Read call on a fakeHandle: a frame when err is nil
type readStep struct {
	err error
}

// fakeSource records every open, read and close in order
type fakeSource struct {
	mu       sync.Mutex
	finite   bool
	openErrs []error    // consumed one per Open before succeeding
	reads    []readStep // shared across handles, consumed in order
	log      []string
	opens    int
	closes   int
	seq      uint64
}

func (s *fakeSource) Open(ctx context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		s.log = append(s.log, "open-fail")
		return nil, err
	}
	s.opens++
	s.log = append(s.log, "open")
	return &fakeHandle{src: s, id: s.opens}, nil
}

func (s *fakeSource) Finite() bool   { return s.finite }
func (s *fakeSource) String() string { return "fake:test" }

func (s *fakeSource) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *fakeSource) trace() string {
	return strings.Join(s.events(), ",")
}

type fakeHandle struct {
	src    *fakeSource
	id     int
	closed bool
}

func (h *fakeHandle) Read(ctx context.Context) (*video.Frame, error) {
	s := h.src
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reads) == 0 {
		s.log = append(s.log, "eos")
		return nil, ErrEndOfStream
	}
	step := s.reads[0]
	s.reads = s.reads[1:]
	if step.err != nil {
		s.log = append(s.log, "fault")
		return nil, step.err
	}
	s.seq++
	s.log = append(s.log, "read")
	return &video.Frame{Seq: s.seq, Timestamp: time.Now(), Data: []byte{1}}, nil
}

func (h *fakeHandle) Close() error {
	s := h.src
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.closed {
		return fmt.Errorf("handle %d closed twice", h.id)
	}
	h.closed = true
	s.closes++
	s.log = append(s.log, "close")
	return nil
}

func ok() readStep    { return readStep{} }
func fault() readStep { return readStep{err: &ReadFault{Source: "fake:test", Err: errFakeRead}} }

// noSleep records requested delays instead of waiting
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.delays = append(n.delays, d)
	n.mu.Unlock()
	return ctx.Err()
}

func testJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = shade, shade, shade, 255
	}
	data, err := video.EncodeJPEG(img, 90)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	return data
}
