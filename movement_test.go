package server

import (
	"math"
	"os"
	"testing"

	"tilequest/server/internal/tilemap"
)

func openResolver() *Resolver {
	return NewResolver(NewCollisionIndex(nil), 800, 600, 16)
}

func wallResolver(rects ...Rect) *Resolver {
	return NewResolver(NewCollisionIndex(rects), 800, 600, 16)
}

func TestDisplacementScalesWithDelta(t *testing.T) {
	dx, dy := Displacement(DirectionRight, 200, 0.1)
	if dx != 20 || dy != 0 {
		t.Fatalf("expected (20, 0), got (%v, %v)", dx, dy)
	}
	dx, dy = Displacement(DirectionUp, 200, 0.1)
	if dx != 0 || dy != -20 {
		t.Fatalf("expected (0, -20), got (%v, %v)", dx, dy)
	}

	// A halved delta halves the step, so two short frames cover exactly
	// one long frame.
	halfX, _ := Displacement(DirectionRight, 200, 0.05)
	fullX, _ := Displacement(DirectionRight, 200, 0.1)
	if math.Abs(halfX*2-fullX) > 1e-9 {
		t.Fatalf("two 0.05s steps should equal one 0.1s step: %v vs %v", halfX*2, fullX)
	}
}

func TestResolveOpenGround(t *testing.T) {
	x, y := openResolver().Resolve(120, 120, 100, 100, 32, 32)
	if x != 120 || y != 120 {
		t.Fatalf("unobstructed move should pass through, got (%v, %v)", x, y)
	}
}

func TestResolveSlidesAlongFreeAxis(t *testing.T) {
	// Wall to the right of the mover blocks horizontal progress but
	// leaves the vertical lane open.
	r := wallResolver(Rect{X: 120, Y: 80, Width: 20, Height: 40})
	x, y := r.Resolve(120, 120, 100, 100, 32, 32)
	if x != 100 || y != 120 {
		t.Fatalf("expected slide to (100, 120), got (%v, %v)", x, y)
	}
}

func TestResolveRejectsWhenBothAxesBlocked(t *testing.T) {
	r := wallResolver(
		Rect{X: 120, Y: 80, Width: 20, Height: 40},
		Rect{X: 80, Y: 120, Width: 40, Height: 20},
	)
	x, y := r.Resolve(120, 120, 100, 100, 32, 32)
	if x != 100 || y != 100 {
		t.Fatalf("fully blocked move should stand still, got (%v, %v)", x, y)
	}
}

func TestResolveEdgeContactIsNotCollision(t *testing.T) {
	// Obstacle starts exactly where the mover's box ends.
	r := wallResolver(Rect{X: 136, Y: 84, Width: 20, Height: 64})
	x, y := r.Resolve(120, 100, 100, 100, 32, 32)
	if x != 120 || y != 100 {
		t.Fatalf("edge contact should not block, got (%v, %v)", x, y)
	}
}

func TestResolveClampsToPaddedBounds(t *testing.T) {
	x, y := openResolver().Resolve(1000, -50, 400, 300, 32, 32)
	if x != 784 || y != 16 {
		t.Fatalf("expected clamp to (784, 16), got (%v, %v)", x, y)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := wallResolver(Rect{X: 120, Y: 80, Width: 20, Height: 40})
	x1, y1 := r.Resolve(120, 120, 100, 100, 32, 32)
	x2, y2 := r.Resolve(x1, y1, x1, y1, 32, 32)
	if x1 != x2 || y1 != y2 {
		t.Fatalf("resolving a resolved position moved it: (%v, %v) -> (%v, %v)", x1, y1, x2, y2)
	}
}

func TestResolveAgainstLoadedMap(t *testing.T) {
	data, err := tilemap.Load(os.DirFS("internal/tilemap/testdata"), "world.tmx")
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	r := NewResolverFromMap(data, 8)

	// The center tile of the fixture is solid, so walking straight into
	// it leaves the mover in place.
	if x, y := r.Resolve(48, 48, 16, 48, 16, 16); x != 16 || y != 48 {
		t.Fatalf("move into solid tile should be rejected, got (%v, %v)", x, y)
	}

	// A diagonal step toward the same tile keeps the free axis.
	if x, y := r.Resolve(40, 56, 16, 80, 16, 16); x != 40 || y != 80 {
		t.Fatalf("expected slide to (40, 80), got (%v, %v)", x, y)
	}

	// Open ground passes through untouched.
	if x, y := r.Resolve(16, 80, 16, 16, 16, 16); x != 16 || y != 80 {
		t.Fatalf("open move should pass through, got (%v, %v)", x, y)
	}
}
