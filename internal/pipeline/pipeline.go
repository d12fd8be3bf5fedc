// Package pipeline runs the ingestion loop: capture, tracking, crossing
// detection, event recording and publication of the annotated frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/counting"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/events"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/metrics"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

// Locator returns the location attached to new events
type Locator interface {
	Current() string
}

// UnknownLocation is attached to events when the locator reports no id
const UnknownLocation = "unknown"

// storeTimeout bounds the store write of an event already decided
const storeTimeout = 5 * time.Second

// Config contains pipeline settings
type Config struct {
	FrameStride int // process every Nth frame read
	JPEGQuality int
	// Boundary drawn on the overlay; at most one is set
	Band *video.Band
	Line *[2]image.Point
}

// Deps are the collaborators owned by the pipeline after New. The pipeline
// closes Capture and both sides of Sink on shutdown.
type Deps struct {
	Capture  *camera.Supervisor
	Tracker  ai.Tracker
	Engine   *counting.Engine
	Sink     *events.Sink
	Location Locator
	Shared   *video.SharedFrame
	Metrics  *metrics.Metrics
}

// Status is a snapshot of the ingestion loop
type Status struct {
	Running         bool                    `json:"running"`
	Location        string                  `json:"location"`
	FramesRead      uint64                  `json:"frames_read"`
	FramesProcessed uint64                  `json:"frames_processed"`
	GatewayFaults   uint64                  `json:"gateway_faults"`
	SinkFaults      uint64                  `json:"sink_faults"`
	EventsLost      uint64                  `json:"events_lost"`
	LastEventAt     time.Time               `json:"last_event_at,omitempty"`
	Counting        counting.Stats          `json:"counting"`
	Camera          camera.SupervisorStatus `json:"camera"`
	Error           string                  `json:"error,omitempty"`
}

// Pipeline is the single ingestion goroutine
type Pipeline struct {
	*service.ServiceBase
	cfg Config
	Deps

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	stopErr  error

	// loop-owned counters
	framesRead uint64
	processed  uint64

	mu          sync.RWMutex
	running     bool
	gwFaults    uint64
	sinkFaults  uint64
	lost        uint64
	lastEventAt time.Time
	stats       counting.Stats
	exitErr     error
}

// New creates a pipeline and installs its capture state hook
func New(cfg Config, deps Deps, log *logger.Logger) (*Pipeline, error) {
	if deps.Capture == nil || deps.Tracker == nil || deps.Engine == nil || deps.Sink == nil || deps.Location == nil {
		return nil, fmt.Errorf("pipeline requires capture, tracker, engine, sink and location")
	}
	if deps.Shared == nil {
		deps.Shared = video.NewSharedFrame()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.FrameStride <= 0 {
		cfg.FrameStride = 1
	}

	p := &Pipeline{
		ServiceBase: service.NewServiceBase("pipeline", log),
		cfg:         cfg,
		Deps:        deps,
		done:        make(chan struct{}),
		stats:       deps.Engine.Stats(),
	}
	deps.Capture.OnStateChange(p.onStateChange)
	return p, nil
}

// Start launches the ingestion loop
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already started")
	}
	p.started = true
	p.running = true
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.LogInfo("Ingestion loop starting", "frame_stride", p.cfg.FrameStride, "location", p.location())
	go p.run(runCtx)
	return nil
}

// Stop ends the loop and waits for the shutdown sequence to finish
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("pipeline did not stop: %w", ctx.Err())
		}
	}
	// No-op when the loop already ran it
	p.shutdown()
	return p.stopErr
}

// Done is closed once the loop has exited and resources are released
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Err returns the error that ended the loop, nil for a clean exit
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.shutdown()

	for {
		frame, err := p.Capture.Next(ctx)
		p.syncCaptureMetrics()
		if err != nil {
			p.finish(ctx, err)
			return
		}
		p.handleFrame(ctx, frame)
	}
}

// finish records why the loop ended
func (p *Pipeline) finish(ctx context.Context, err error) {
	var exitErr error
	switch {
	case errors.Is(err, camera.ErrEndOfStream):
		p.LogInfo("Source finished, stopping", "frames_read", p.framesRead)
	case ctx.Err() != nil:
		p.LogInfo("Ingestion loop cancelled")
		return
	default:
		exitErr = err
		p.LogError("Ingestion loop stopped", err)
	}

	p.mu.Lock()
	p.exitErr = exitErr
	p.mu.Unlock()

	if exitErr != nil {
		p.GetStatus().SetError(exitErr)
	} else {
		p.GetStatus().SetStatus(service.StatusStopped)
	}

	data := map[string]interface{}{"frames_read": p.framesRead}
	if exitErr != nil {
		data["error"] = exitErr.Error()
	}
	p.PublishEvent(service.EventTypePipelineFinished, data)
}

// shutdown runs once: reads are already stopped when it is called from the
// loop; the log is flushed before the capture and the store are released
func (p *Pipeline) shutdown() {
	p.stopOnce.Do(func() {
		var err error
		if cerr := p.Sink.CloseLog(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close event log: %w", cerr))
		}
		if cerr := p.Capture.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("release capture: %w", cerr))
		}
		if cerr := p.Sink.CloseStore(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close event store: %w", cerr))
		}
		p.stopErr = err

		p.Shared.SetLive(false)
		p.Metrics.CameraLive.Store(0)

		p.mu.Lock()
		p.running = false
		p.mu.Unlock()

		if p.stopErr != nil {
			p.LogError("Pipeline shutdown incomplete", p.stopErr)
			return
		}
		p.LogInfo("Pipeline stopped", "frames_read", p.framesRead, "frames_processed", p.processed)
	})
}

func (p *Pipeline) handleFrame(ctx context.Context, frame *video.Frame) {
	start := time.Now()
	p.framesRead++
	p.Metrics.FramesRead.Add(1)

	if p.framesRead%uint64(p.cfg.FrameStride) != 0 {
		p.Metrics.FramesSkipped.Add(1)
		return
	}
	p.processed++
	p.Metrics.FramesProcessed.Add(1)

	loc := p.location()

	trackStart := time.Now()
	tracked, err := p.Tracker.Track(ctx, frame)
	p.Metrics.UpdateTrackLatency(time.Since(trackStart))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.Metrics.GatewayFaults.Add(1)
		p.mu.Lock()
		p.gwFaults++
		p.mu.Unlock()
		p.LogWarn("Tracking failed, frame skipped", "frame", frame.Seq, "error", err)
		p.publish(frame, nil, loc)
		return
	}

	res := p.Engine.Process(p.processed, tracked.Detections, loc, frame.Timestamp)
	for _, ev := range res.Events {
		p.record(ctx, ev)
	}

	p.mu.Lock()
	p.stats = p.Engine.Stats()
	p.mu.Unlock()

	p.publish(frame, res.Accepted, loc)
	p.Metrics.UpdateProcessLatency(time.Since(start))
}

func (p *Pipeline) record(ctx context.Context, ev events.CountingEvent) {
	p.Metrics.VehicleCounted(ev.VehicleClass)
	p.LogInfo("Vehicle counted",
		"vehicle_type", ev.VehicleClass,
		"vehicle_id", ev.TrackID,
		"location_id", ev.LocationID,
	)

	// A counted crossing is written even when shutdown has begun
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	err := p.Sink.Record(storeCtx, ev)
	cancel()

	p.mu.Lock()
	p.lastEventAt = ev.Timestamp
	p.mu.Unlock()

	p.PublishEvent(service.EventTypeVehicleCounted, map[string]interface{}{
		"timestamp":    ev.Timestamp.Format(events.TimestampLayout),
		"vehicle_type": ev.VehicleClass,
		"vehicle_id":   ev.TrackID,
		"location_id":  ev.LocationID,
	})

	if err == nil {
		return
	}

	var sinkErr *events.SinkError
	if !errors.As(err, &sinkErr) {
		p.LogError("Unexpected sink error", err)
		return
	}
	p.mu.Lock()
	p.sinkFaults++
	if sinkErr.Lost() {
		p.lost++
	}
	p.mu.Unlock()

	data := map[string]interface{}{"vehicle_id": ev.TrackID, "lost": sinkErr.Lost()}
	if sinkErr.LogErr != nil {
		p.Metrics.SinkFault("log")
		data["log_error"] = sinkErr.LogErr.Error()
	}
	if sinkErr.StoreErr != nil {
		p.Metrics.SinkFault("store")
		data["store_error"] = sinkErr.StoreErr.Error()
	}
	p.PublishEvent(service.EventTypeSinkFault, data)
}

// publish annotates frame and hands it to viewers
func (p *Pipeline) publish(frame *video.Frame, accepted []counting.Accepted, loc string) {
	if frame.Image == nil {
		p.Shared.Publish(frame)
		return
	}

	ov := video.Overlay{
		Band:     p.cfg.Band,
		Line:     p.cfg.Line,
		Totals:   p.Engine.Totals(),
		Location: loc,
		Live:     p.Capture.Live(),
	}
	for _, a := range accepted {
		d := a.Detection
		ov.Boxes = append(ov.Boxes, video.Box{
			Rect:    d.Box.Rect(),
			Label:   Label(d),
			Counted: a.Counted,
		})
	}

	annotated, err := video.NewFrame(frame.Seq, frame.Timestamp, video.Annotate(frame.Image, ov), p.cfg.JPEGQuality)
	if err != nil {
		p.LogWarn("Failed to encode annotated frame", "frame", frame.Seq, "error", err)
		p.Shared.Publish(frame)
		return
	}
	p.Shared.Publish(annotated)
}

// Label formats the overlay caption of a detection
func Label(d ai.Detection) string {
	return fmt.Sprintf("%s-%d (%.2f)", d.ClassName, d.TrackID, d.Confidence)
}

func (p *Pipeline) onStateChange(ch camera.StateChange) {
	live := ch.To == camera.StateLive
	p.Shared.SetLive(live)
	p.Metrics.StateChanged(ch.To.String(), live)

	data := map[string]interface{}{
		"from":       ch.From.String(),
		"to":         ch.To.String(),
		"session_id": ch.SessionID,
	}
	if ch.Err != nil {
		data["error"] = ch.Err.Error()
	}
	p.PublishEvent(service.EventTypeCameraStateChanged, data)

	switch {
	case live:
		p.PublishEvent(service.EventTypeCameraConnected, data)
	case ch.From == camera.StateLive:
		p.PublishEvent(service.EventTypeCameraDisconnected, data)
	}
}

func (p *Pipeline) syncCaptureMetrics() {
	st := p.Capture.Status()
	p.Metrics.ReadFaults.Store(st.ReadFaults)
	p.Metrics.Reconnects.Store(uint64(st.Reconnects))
}

func (p *Pipeline) location() string {
	if loc := p.Location.Current(); loc != "" {
		return loc
	}
	return UnknownLocation
}

// Status returns a snapshot for status endpoints
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	st := Status{
		Running:       p.running,
		GatewayFaults: p.gwFaults,
		SinkFaults:    p.sinkFaults,
		EventsLost:    p.lost,
		LastEventAt:   p.lastEventAt,
		Counting:      p.stats,
	}
	if p.exitErr != nil {
		st.Error = p.exitErr.Error()
	}
	p.mu.RUnlock()

	st.FramesRead = p.Metrics.FramesRead.Load()
	st.FramesProcessed = p.Metrics.FramesProcessed.Load()
	st.Location = p.location()
	st.Camera = p.Capture.Status()
	return st
}
