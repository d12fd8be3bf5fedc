package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/counting"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

var errForced = errors.New("forced failure")

// recorder keeps the order of close calls across fakes
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) trace() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.calls, ",")
}

// fakeSource serves n frames. A finite source then reports end of stream;
// a live one blocks until the context ends.
type fakeSource struct {
	t      *testing.T
	n      int
	finite bool
	rec    *recorder
}

func (s *fakeSource) Open(ctx context.Context) (camera.Handle, error) {
	s.rec.add("open")
	return &fakeHandle{src: s}, nil
}

func (s *fakeSource) Finite() bool   { return s.finite }
func (s *fakeSource) String() string { return "file:test.mp4" }

type fakeHandle struct {
	src  *fakeSource
	seq  uint64
	once sync.Once
}

func (h *fakeHandle) Read(ctx context.Context) (*video.Frame, error) {
	if int(h.seq) >= h.src.n {
		if h.src.finite {
			return nil, camera.ErrEndOfStream
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h.seq++
	return testFrame(h.src.t, h.seq), nil
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() { h.src.rec.add("close-capture") })
	return nil
}

func testFrame(t *testing.T, seq uint64) *video.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 40, G: 40, B: 40, A: 255}), image.Point{}, draw.Src)
	f, err := video.NewFrame(seq, time.Date(2026, 10, 14, 8, 30, 0, 0, time.Local), img, 70)
	if err != nil {
		t.Fatalf("failed to build frame: %v", err)
	}
	return f
}

// fakeTracker returns one scripted result per call; a nil entry fails
type fakeTracker struct {
	mu      sync.Mutex
	results [][]ai.Detection
	calls   []uint64
}

func (f *fakeTracker) Track(ctx context.Context, frame *video.Frame) (*ai.TrackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, frame.Seq)
	if i >= len(f.results) {
		return &ai.TrackResult{}, nil
	}
	if f.results[i] == nil {
		return nil, &ai.GatewayFault{StatusCode: 503, Err: errForced}
	}
	return &ai.TrackResult{Detections: f.results[i]}, nil
}

func (f *fakeTracker) seqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.calls...)
}

// memLog and memStore keep events in memory
type memLog struct {
	rec    *recorder
	fail   bool
	events []events.CountingEvent
}

func (l *memLog) Append(e events.CountingEvent) error {
	if l.fail {
		return errForced
	}
	l.events = append(l.events, e)
	return nil
}

func (l *memLog) Close() error {
	l.rec.add("close-log")
	return nil
}

type memStore struct {
	rec    *recorder
	fail   bool
	events []events.CountingEvent
}

func (s *memStore) SaveEvent(ctx context.Context, e events.CountingEvent) error {
	if s.fail {
		return errForced
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memStore) Close() error {
	s.rec.add("close-store")
	return nil
}

type staticLocator string

func (l staticLocator) Current() string { return string(l) }

func vehicle(id int64, class string, cy float64) ai.Detection {
	return ai.Detection{
		TrackID:    id,
		ClassName:  class,
		Confidence: 0.9,
		Box:        ai.BoundingBox{X1: 40, Y1: cy - 10, X2: 60, Y2: cy + 10},
	}
}

type harness struct {
	p       *Pipeline
	rec     *recorder
	src     *fakeSource
	tracker *fakeTracker
	log     *memLog
	store   *memStore
	shared  *video.SharedFrame
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, n int, finite bool, stride int, results [][]ai.Detection) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec:     rec,
		src:     &fakeSource{t: t, n: n, finite: finite, rec: rec},
		tracker: &fakeTracker{results: results},
		log:     &memLog{rec: rec},
		store:   &memStore{rec: rec},
		shared:  video.NewSharedFrame(),
		metrics: metrics.New(),
	}

	nop := logger.NewNopLogger()
	sup := camera.NewSupervisor(h.src, camera.SupervisorConfig{MaxReadFailures: 1}, nop)
	engine := counting.NewEngine(counting.Config{
		Policy:  counting.BandPolicy{Position: 470, Offset: 20},
		Classes: []string{"car", "truck"},
	})

	p, err := New(Config{FrameStride: stride, Band: &video.Band{Y: 470, Offset: 20}}, Deps{
		Capture:  sup,
		Tracker:  h.tracker,
		Engine:   engine,
		Sink:     events.NewSink(h.log, h.store, nop),
		Location: staticLocator("Basni crossing"),
		Shared:   h.shared,
		Metrics:  h.metrics,
	}, nop)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	h.p = p
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}
