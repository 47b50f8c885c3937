package server

// Rect is an axis-aligned rectangle in world pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Intersects reports strict AABB overlap. Rectangles that merely touch at
// an edge do not collide.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width &&
		r.X+r.Width > o.X &&
		r.Y < o.Y+o.Height &&
		r.Y+r.Height > o.Y
}

// CollisionIndex is a frozen set of collision rectangles loaded from map
// geometry. It is built once when a map session loads and never mutated
// afterwards, so concurrent queries need no synchronization.
type CollisionIndex struct {
	rects []Rect
}

// NewCollisionIndex copies rects into a read-only query structure.
func NewCollisionIndex(rects []Rect) *CollisionIndex {
	frozen := make([]Rect, len(rects))
	copy(frozen, rects)
	return &CollisionIndex{rects: frozen}
}

// Blocked reports whether box overlaps any collision rectangle.
func (ix *CollisionIndex) Blocked(box Rect) bool {
	if ix == nil {
		return false
	}
	for _, r := range ix.rects {
		if box.Intersects(r) {
			return true
		}
	}
	return false
}

// Size returns the number of rectangles in the index.
func (ix *CollisionIndex) Size() int {
	if ix == nil {
		return 0
	}
	return len(ix.rects)
}

// clamp limits value to the range [min, max].
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
