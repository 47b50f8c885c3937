package server

import "tilequest/server/internal/tilemap"

// Resolver corrects desired displacements against a frozen CollisionIndex
// and the map bounds. It is a pure function of its inputs plus the index,
// so it is safe to share across ticks and goroutines.
type Resolver struct {
	index     *CollisionIndex
	mapWidth  float64
	mapHeight float64
	padding   float64
}

// NewResolver builds a resolver for the given index and map dimensions.
func NewResolver(index *CollisionIndex, mapWidth, mapHeight, padding float64) *Resolver {
	return &Resolver{index: index, mapWidth: mapWidth, mapHeight: mapHeight, padding: padding}
}

// NewResolverFromMap builds a resolver over the collision geometry and
// dimensions of a loaded map document.
func NewResolverFromMap(data *tilemap.Data, padding float64) *Resolver {
	rects := make([]Rect, 0, len(data.Collisions))
	for _, r := range data.Collisions {
		rects = append(rects, Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
	}
	return NewResolver(NewCollisionIndex(rects), data.Width, data.Height, padding)
}

// Displacement converts a direction into a frame displacement. Movement is
// framerate independent: the step is speed scaled by the frame delta in
// seconds, never a fixed per-frame pixel count.
func Displacement(dir Direction, speed, dt float64) (float64, float64) {
	dx, dy := dir.Vector()
	return dx * speed * dt, dy * speed * dt
}

// Resolve returns the corrected position for a move from (currentX,
// currentY) toward (desiredX, desiredY) for an entity of the given size.
//
// The candidate is accepted outright when its bounding box clears every
// collision rectangle. Otherwise the move slides along one axis at a time:
// the desired X with the old Y first, then the desired Y with the old X.
// If both fail the move is rejected and the old position stands. The
// result is always clamped to the padded map bounds.
func (r *Resolver) Resolve(desiredX, desiredY, currentX, currentY, width, height float64) (float64, float64) {
	box := func(cx, cy float64) Rect {
		return Rect{X: cx - width/2, Y: cy - height/2, Width: width, Height: height}
	}

	x, y := desiredX, desiredY
	switch {
	case !r.index.Blocked(box(desiredX, desiredY)):
	case !r.index.Blocked(box(desiredX, currentY)):
		y = currentY
	case !r.index.Blocked(box(currentX, desiredY)):
		x = currentX
	default:
		x, y = currentX, currentY
	}

	x = clamp(x, r.padding, r.mapWidth-r.padding)
	y = clamp(y, r.padding, r.mapHeight-r.padding)
	return x, y
}
