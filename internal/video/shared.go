package video

import (
	"sync"
	"time"
)

// SharedFrame holds the most recent annotated frame and the liveness flag.
// It is the only state shared between the ingestion loop and viewers.
type SharedFrame struct {
	mu        sync.RWMutex
	frame     *Frame
	version   uint64 // publish count, independent of the source's frame seq
	live      bool
	updatedAt time.Time
}

// NewSharedFrame creates an empty shared frame slot
func NewSharedFrame() *SharedFrame {
	return &SharedFrame{}
}

// Publish replaces the current frame. The caller must not modify f afterwards.
func (s *SharedFrame) Publish(f *Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	s.frame = f
	s.version++
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Latest returns a private copy of the most recent frame, or false when
// nothing has been published yet. It never waits for a new frame.
func (s *SharedFrame) Latest() (*Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, false
	}
	return s.frame.Clone(), true
}

// Snapshot returns a private copy of the most recent frame together with
// the publish count it was stored under
func (s *SharedFrame) Snapshot() (*Frame, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, 0, false
	}
	return s.frame.Clone(), s.version, true
}

// Version returns the number of frames published so far
func (s *SharedFrame) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Seq returns the sequence number of the current frame, 0 if none
func (s *SharedFrame) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return 0
	}
	return s.frame.Seq
}

// SetLive records whether the source is currently delivering frames
func (s *SharedFrame) SetLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

// Live reports the liveness flag
func (s *SharedFrame) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// UpdatedAt returns the time of the last publish
func (s *SharedFrame) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
