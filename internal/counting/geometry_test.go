package counting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegment_Intersects(t *testing.T) {
	boundary := Segment{A: Point{100, 180}, B: Point{700, 50}}

	tests := []struct {
		name string
		move Segment
		want bool
	}{
		{"vertical crossing", Segment{Point{400, 100}, Point{400, 130}}, true},
		{"reverse direction", Segment{Point{400, 130}, Point{400, 100}}, true},
		{"single frame jump", Segment{Point{300, 40}, Point{320, 300}}, true},
		{"below and parallel", Segment{Point{200, 300}, Point{210, 310}}, false},
		{"same side above", Segment{Point{90, 170}, Point{110, 175}}, false},
		{"beyond the endpoint", Segment{Point{750, 20}, Point{750, 90}}, false},
		{"ends on the line", Segment{Point{400, 100}, Point{400, 115}}, false},
		{"leaves the line downwards", Segment{Point{400, 115}, Point{400, 130}}, true},
		{"zero length", Segment{Point{400, 100}, Point{400, 100}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.move.Intersects(boundary))
			assert.Equal(t, tt.want, boundary.Intersects(tt.move))
		})
	}
}
