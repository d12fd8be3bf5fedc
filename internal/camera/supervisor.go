package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/video"
)

// State is the capture session state
type State int

const (
	StateConnecting State = iota
	StateLive
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateDegraded:
		return "DEGRADED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange is passed to the state change hook
type StateChange struct {
	From      State
	To        State
	SessionID string
	Err       error
	At        time.Time
}

// SupervisorConfig contains reconnection settings
type SupervisorConfig struct {
	MaxReadFailures int           // consecutive read faults before reconnecting
	ReadRetryDelay  time.Duration // wait after a read fault below the limit
	ReconnectDelay  time.Duration // wait after releasing the handle
	OpenRetryDelay  time.Duration // wait after a failed open
	MaxOpenAttempts int           // 0 = retry forever
}

// SupervisorStatus is a snapshot of the capture session
type SupervisorStatus struct {
	Source      string    `json:"source"`
	State       string    `json:"state"`
	Live        bool      `json:"live"`
	SessionID   string    `json:"session_id,omitempty"`
	Failures    int       `json:"consecutive_failures"`
	Reconnects  int       `json:"reconnects"`
	ReadFaults  uint64    `json:"read_faults"`
	FramesRead  uint64    `json:"frames_read"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Supervisor owns the capture session and hides transient source failures
// from the ingestion loop. Next is meant to be called from one goroutine;
// Status, State, Live and Close are safe from any goroutine.
type Supervisor struct {
	source Source
	cfg    SupervisorConfig
	logger *logger.Logger

	mu          sync.Mutex
	handle      Handle
	state       State
	sessionID   string
	failures    int
	reconnects  int
	readFaults  uint64
	framesRead  uint64
	lastFrameAt time.Time
	lastErr     error
	closed      bool

	onStateChange func(StateChange)
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a supervisor for src
func NewSupervisor(src Source, cfg SupervisorConfig, log *logger.Logger) *Supervisor {
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = 5
	}
	return &Supervisor{
		source: src,
		cfg:    cfg,
		logger: log,
		state:  StateConnecting,
		sleep:  sleepCtx,
	}
}

// OnStateChange registers a hook called synchronously on every transition.
// Must be set before the first call to Next.
func (s *Supervisor) OnStateChange(fn func(StateChange)) {
	s.onStateChange = fn
}

// Next returns the next frame, opening and reopening the source as needed.
// It returns only on success, context cancellation, ErrEndOfStream from a
// finite source, ErrNoSource, ErrClosed, or exhausted open attempts.
func (s *Supervisor) Next(ctx context.Context) (*video.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := s.currentHandle()
		if err != nil {
			return nil, err
		}
		if h == nil {
			if h, err = s.open(ctx); err != nil {
				return nil, err
			}
		}

		frame, err := h.Read(ctx)
		if err == nil {
			s.readSucceeded(frame)
			return frame, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, ErrEndOfStream) {
			if s.source.Finite() {
				s.logger.Info("Source exhausted", "source", s.source.String())
				s.release()
				return nil, ErrEndOfStream
			}
			// A live source never legitimately ends
			err = &ReadFault{Source: s.source.String(), Err: err}
		}

		if s.readFailed(err) {
			s.logger.Warn("Read failure limit reached, reconnecting",
				"source", s.source.String(),
				"max_read_failures", s.cfg.MaxReadFailures,
				"reconnect_delay", s.cfg.ReconnectDelay,
			)
			s.release()
			s.transition(StateConnecting, err)
			if err := s.sleep(ctx, s.cfg.ReconnectDelay); err != nil {
				return nil, err
			}
			continue
		}

		if err := s.sleep(ctx, s.cfg.ReadRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (s *Supervisor) currentHandle() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.handle, nil
}

// open retries until the source opens, the context ends or the attempt
// budget is spent. The state stays CONNECTING until the first good read.
func (s *Supervisor) open(ctx context.Context) (Handle, error) {
	attempts := 0
	for {
		s.logger.Info("Opening frame source", "source", s.source.String(), "attempt", attempts+1)

		h, err := s.source.Open(ctx)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = h.Close()
				return nil, ErrClosed
			}
			s.handle = h
			s.sessionID = uuid.NewString()
			sessionID := s.sessionID
			s.mu.Unlock()

			s.logger.Info("Frame source opened", "source", s.source.String(), "session_id", sessionID)
			return h, nil
		}

		if errors.Is(err, ErrNoSource) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempts++
		s.logger.Warn("Failed to open frame source",
			"source", s.source.String(),
			"attempt", attempts,
			"error", err,
		)
		s.transition(StateFailed, err)

		if s.cfg.MaxOpenAttempts > 0 && attempts >= s.cfg.MaxOpenAttempts {
			return nil, fmt.Errorf("giving up after %d open attempts: %w", attempts, err)
		}
		if err := s.sleep(ctx, s.cfg.OpenRetryDelay); err != nil {
			return nil, err
		}
		s.transition(StateConnecting, nil)
	}
}

func (s *Supervisor) readSucceeded(frame *video.Frame) {
	s.mu.Lock()
	s.failures = 0
	s.framesRead++
	s.lastFrameAt = frame.Timestamp
	s.mu.Unlock()

	s.transition(StateLive, nil)
}

// readFailed records a fault and reports whether the limit was reached
func (s *Supervisor) readFailed(err error) bool {
	s.mu.Lock()
	s.failures++
	s.readFaults++
	failures := s.failures
	limit := failures >= s.cfg.MaxReadFailures
	if limit {
		s.failures = 0
		s.reconnects++
	}
	s.mu.Unlock()

	s.logger.Warn("Frame read failed",
		"source", s.source.String(),
		"consecutive_failures", failures,
		"error", err,
	)
	s.transition(StateDegraded, err)
	return limit
}

// release closes the current handle, if any
func (s *Supervisor) release() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			s.logger.Warn("Error releasing capture", "source", s.source.String(), "error", err)
		}
	}
}

func (s *Supervisor) transition(to State, cause error) {
	s.mu.Lock()
	from := s.state
	if cause != nil {
		s.lastErr = cause
	}
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	change := StateChange{From: from, To: to, SessionID: s.sessionID, Err: cause, At: time.Now()}
	s.mu.Unlock()

	s.logger.Info("Capture state changed", "from", from.String(), "to", to.String(), "session_id", change.SessionID)
	if s.onStateChange != nil {
		s.onStateChange(change)
	}
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether frames are currently flowing
func (s *Supervisor) Live() bool {
	return s.State() == StateLive
}

// Failures returns the consecutive read failure count
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Status returns a snapshot for status endpoints
func (s *Supervisor) Status() SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SupervisorStatus{
		Source:      s.source.String(),
		State:       s.state.String(),
		Live:        s.state == StateLive,
		SessionID:   s.sessionID,
		Failures:    s.failures,
		Reconnects:  s.reconnects,
		ReadFaults:  s.readFaults,
		FramesRead:  s.framesRead,
		LastFrameAt: s.lastFrameAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Close releases the capture handle. It is safe to call more than once;
// the handle is released exactly once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
