// Package counting turns tracked detections into vehicle crossing events
package counting

import (
	"sort"
	"strings"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/ai"
	"github.com/vzahanych/view-guard-meta/edge/traffic-counter/internal/events"
)

// Config contains engine settings
type Config struct {
	Policy        Policy
	Classes       []string // allow-list; empty counts every class
	MinConfidence float64  // inclusive
	// EvictAfterFrames drops tracks unseen for this many processed frames,
	// together with their counted mark. 0 keeps them forever.
	EvictAfterFrames uint64
}

// Track is the engine's memory of one tracker identity
type Track struct {
	ID       int64
	Center   Point
	Class    string
	LastSeen uint64
	Counted  bool
}

// Accepted is a detection that passed the class and confidence filters
type Accepted struct {
	Detection ai.Detection
	Center    Point
	Counted   bool // this track has been counted, now or earlier
	New       bool // counted in this frame
}

// Result is the outcome of processing one frame
type Result struct {
	Accepted []Accepted
	Events   []events.CountingEvent
}

// Engine holds per-track history and the counted set. It is not safe for
// concurrent use; the ingestion loop owns it.
type Engine struct {
	policy        Policy
	classes       map[string]struct{}
	minConfidence float64
	evictAfter    uint64

	tracks  map[int64]*Track
	totals  map[string]int
	total   int
	evicted uint64
}

// NewEngine creates an engine
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		policy:        cfg.Policy,
		minConfidence: cfg.MinConfidence,
		evictAfter:    cfg.EvictAfterFrames,
		tracks:        make(map[int64]*Track),
		totals:        make(map[string]int),
	}
	if len(cfg.Classes) > 0 {
		e.classes = make(map[string]struct{}, len(cfg.Classes))
		for _, c := range cfg.Classes {
			e.classes[strings.ToLower(c)] = struct{}{}
		}
	}
	return e
}

func (e *Engine) allowed(d ai.Detection) bool {
	if d.Confidence < e.minConfidence {
		return false
	}
	if e.classes == nil {
		return true
	}
	_, ok := e.classes[strings.ToLower(d.ClassName)]
	return ok
}

// Process applies the boundary test to every detection of one frame.
// frameIndex must increase between calls. location is attached to the
// events emitted for this frame.
func (e *Engine) Process(frameIndex uint64, dets []ai.Detection, location string, at time.Time) Result {
	var res Result

	for _, d := range dets {
		if !e.allowed(d) {
			continue
		}

		cx, cy := d.Box.Center()
		curr := Point{X: cx, Y: cy}

		t, seen := e.tracks[d.TrackID]
		if !seen {
			t = &Track{ID: d.TrackID, Center: curr}
			e.tracks[d.TrackID] = t
		}
		prev := t.Center

		newlyCounted := false
		if e.policy.Crossed(prev, curr) && !t.Counted {
			t.Counted = true
			newlyCounted = true
			e.totals[d.ClassName]++
			e.total++
			res.Events = append(res.Events, events.CountingEvent{
				Timestamp:    at,
				VehicleClass: d.ClassName,
				TrackID:      d.TrackID,
				LocationID:   location,
			})
		}

		t.Center = curr
		t.Class = d.ClassName
		t.LastSeen = frameIndex

		res.Accepted = append(res.Accepted, Accepted{
			Detection: d,
			Center:    curr,
			Counted:   t.Counted,
			New:       newlyCounted,
		})
	}

	e.evict(frameIndex)
	return res
}

func (e *Engine) evict(frameIndex uint64) {
	if e.evictAfter == 0 {
		return
	}
	for id, t := range e.tracks {
		if frameIndex > t.LastSeen && frameIndex-t.LastSeen > e.evictAfter {
			delete(e.tracks, id)
			e.evicted++
		}
	}
}

// Totals returns a copy of the per-class counts
func (e *Engine) Totals() map[string]int {
	out := make(map[string]int, len(e.totals))
	for k, v := range e.totals {
		out[k] = v
	}
	return out
}

// Total returns the number of events emitted
func (e *Engine) Total() int { return e.total }

// Track returns a copy of the state kept for id
func (e *Engine) Track(id int64) (Track, bool) {
	t, ok := e.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *t, true
}

// Stats describes the engine's memory use
type Stats struct {
	Policy  string         `json:"policy"`
	Tracks  int            `json:"tracks"`
	Counted int            `json:"counted"`
	Evicted uint64         `json:"evicted"`
	Total   int            `json:"total"`
	Totals  map[string]int `json:"totals"`
}

// Stats returns a snapshot of the engine state
func (e *Engine) Stats() Stats {
	counted := 0
	for _, t := range e.tracks {
		if t.Counted {
			counted++
		}
	}
	return Stats{
		Policy:  e.policy.Name(),
		Tracks:  len(e.tracks),
		Counted: counted,
		Evicted: e.evicted,
		Total:   e.total,
		Totals:  e.Totals(),
	}
}

// Classes returns the class names with at least one count, sorted
func (e *Engine) Classes() []string {
	out := make([]string, 0, len(e.totals))
	for k := range e.totals {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
