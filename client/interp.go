package client

import server "tilequest/server"

// InterpolationBuffer smooths a remotely owned position toward the last
// authoritative target. Position converges by a fixed fraction per step
// so remote players glide instead of teleporting between updates.
// Direction and movement state are discrete and applied immediately.
type InterpolationBuffer struct {
	lerp    float64
	x, y    float64
	tx, ty  float64
	dir     server.Direction
	moving  bool
	primed  bool
}

const defaultLerpFactor = 0.15

func NewInterpolationBuffer(lerpFactor float64) *InterpolationBuffer {
	if lerpFactor <= 0 || lerpFactor > 1 {
		lerpFactor = defaultLerpFactor
	}
	return &InterpolationBuffer{lerp: lerpFactor, dir: server.DirectionDown}
}

// Observe records a new authoritative target. The first observation snaps
// the displayed position so a fresh entity never lerps in from the origin.
func (b *InterpolationBuffer) Observe(x, y float64, dir server.Direction, moving bool) {
	b.tx, b.ty = x, y
	b.dir = dir
	b.moving = moving
	if !b.primed {
		b.x, b.y = x, y
		b.primed = true
	}
}

// Step advances the displayed position one render tick toward the target
// and returns it.
func (b *InterpolationBuffer) Step() (float64, float64) {
	b.x += (b.tx - b.x) * b.lerp
	b.y += (b.ty - b.y) * b.lerp
	return b.x, b.y
}

func (b *InterpolationBuffer) Position() (float64, float64) { return b.x, b.y }

func (b *InterpolationBuffer) Target() (float64, float64) { return b.tx, b.ty }

func (b *InterpolationBuffer) Direction() server.Direction { return b.dir }

func (b *InterpolationBuffer) Moving() bool { return b.moving }
