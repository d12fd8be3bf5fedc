package counting

import (
	"fmt"
	"strings"
)

// Policy decides whether a track crossed the boundary between its previous
// and current center. On first sighting prev equals curr.
type Policy interface {
	Crossed(prev, curr Point) bool
	Name() string
}

// BandPolicy counts a track whose center y lies in the closed interval
// [Position-Offset, Position+Offset]. Only the current position matters, so
// an object that jumps over the band between two processed frames is missed.
type BandPolicy struct {
	Position float64
	Offset   float64
}

func (b BandPolicy) Crossed(_, curr Point) bool {
	return curr.Y >= b.Position-b.Offset && curr.Y <= b.Position+b.Offset
}

func (b BandPolicy) Name() string { return "band" }

// SegmentPolicy counts a track whose movement since the previous frame
// properly intersects the boundary segment
type SegmentPolicy struct {
	Line Segment
}

func (s SegmentPolicy) Crossed(prev, curr Point) bool {
	if prev == curr {
		return false
	}
	return Segment{A: prev, B: curr}.Intersects(s.Line)
}

func (s SegmentPolicy) Name() string { return "segment" }

// NewPolicy builds a policy by name
func NewPolicy(name string, band BandPolicy, line Segment) (Policy, error) {
	switch strings.ToLower(name) {
	case "band":
		if band.Offset < 0 {
			return nil, fmt.Errorf("band offset must be >= 0, got %v", band.Offset)
		}
		return band, nil
	case "segment":
		if line.A == line.B {
			return nil, fmt.Errorf("boundary segment endpoints must differ")
		}
		return SegmentPolicy{Line: line}, nil
	default:
		return nil, fmt.Errorf("unknown counting policy %q", name)
	}
}
