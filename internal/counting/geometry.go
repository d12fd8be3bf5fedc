package counting

// Point is a position in frame pixels
type Point struct {
	X, Y float64
}

// Segment is a line segment between two points
type Segment struct {
	A, B Point
}

// ccw reports the orientation of the triple a, b, c. Collinear triples
// report false.
func ccw(a, b, c Point) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// Intersects reports whether s and o properly intersect: each segment's
// endpoints lie strictly on opposite sides of the other
func (s Segment) Intersects(o Segment) bool {
	return ccw(s.A, o.A, o.B) != ccw(s.B, o.A, o.B) &&
		ccw(s.A, s.B, o.A) != ccw(s.A, s.B, o.B)
}
