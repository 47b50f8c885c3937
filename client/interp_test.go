package client

import (
	"math"
	"testing"

	server "tilequest/server"
)

func TestFirstObservationSnaps(t *testing.T) {
	b := NewInterpolationBuffer(0.15)
	b.Observe(100, 200, server.DirectionLeft, true)
	x, y := b.Position()
	if x != 100 || y != 200 {
		t.Fatalf("first observation should snap, got (%v, %v)", x, y)
	}
	if b.Direction() != server.DirectionLeft || !b.Moving() {
		t.Fatal("discrete state should apply immediately")
	}
}

func TestStepMovesFixedFractionTowardTarget(t *testing.T) {
	b := NewInterpolationBuffer(0.15)
	b.Observe(0, 0, server.DirectionDown, false)
	b.Observe(100, 0, server.DirectionRight, true)

	x, _ := b.Step()
	if math.Abs(x-15) > 1e-9 {
		t.Fatalf("first step should cover 15%% of the gap, got %v", x)
	}
	x, _ = b.Step()
	if math.Abs(x-(15+85*0.15)) > 1e-9 {
		t.Fatalf("second step should cover 15%% of the remainder, got %v", x)
	}
}

func TestStepConvergesWithoutOvershoot(t *testing.T) {
	b := NewInterpolationBuffer(0.15)
	b.Observe(0, 0, server.DirectionDown, false)
	b.Observe(50, -30, server.DirectionUp, true)

	prevDist := math.Inf(1)
	for i := 0; i < 200; i++ {
		x, y := b.Step()
		dist := math.Hypot(50-x, -30-y)
		if dist > prevDist {
			t.Fatalf("step %d moved away from the target", i)
		}
		prevDist = dist
	}
	x, y := b.Position()
	if math.Abs(x-50) > 0.01 || math.Abs(y+30) > 0.01 {
		t.Fatalf("did not converge, at (%v, %v)", x, y)
	}
}

func TestRetargetingMidFlight(t *testing.T) {
	b := NewInterpolationBuffer(0.5)
	b.Observe(0, 0, server.DirectionDown, false)
	b.Observe(100, 0, server.DirectionRight, true)
	b.Step()

	// A newer authoritative update redirects the glide without snapping.
	b.Observe(0, 100, server.DirectionDown, true)
	x, y := b.Position()
	if x != 50 || y != 0 {
		t.Fatalf("retarget must not snap the displayed position, got (%v, %v)", x, y)
	}
	tx, ty := b.Target()
	if tx != 0 || ty != 100 {
		t.Fatalf("target not updated: (%v, %v)", tx, ty)
	}
}

func TestLerpFactorDefaultsWhenOutOfRange(t *testing.T) {
	for _, bad := range []float64{0, -1, 1.5} {
		b := NewInterpolationBuffer(bad)
		b.Observe(0, 0, server.DirectionDown, false)
		b.Observe(100, 0, server.DirectionDown, false)
		x, _ := b.Step()
		if math.Abs(x-15) > 1e-9 {
			t.Fatalf("factor %v should fall back to the default, first step %v", bad, x)
		}
	}
}
