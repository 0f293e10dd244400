package control

import (
	"math"
	"testing"

	"github.com/robo-magellan/cone-nav/geom"
)

func TestNextTarget(t *testing.T) {
	got := NextTarget(0)
	want := 175.0 * math.Pi / 180.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("NextTarget(0) = %f; want %f", got, want)
	}
	// Two sweeps end up 350 degrees around, normalized.
	got = NextTarget(NextTarget(0))
	want = geom.Normalize(350.0 * math.Pi / 180.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("second sweep target = %f; want %f", got, want)
	}
}

func TestSweepAligned(t *testing.T) {
	s := Sweep{Tolerance: 0.15}
	if !s.Aligned(1.0, 1.1) {
		t.Errorf("0.1 rad error should be aligned")
	}
	if s.Aligned(1.0, 2.0) {
		t.Errorf("1 rad error should not be aligned")
	}
	if !s.Aligned(math.Pi, -math.Pi) {
		t.Errorf("pi and -pi are the same heading")
	}
}

func TestSweepTurn(t *testing.T) {
	s := Sweep{Tolerance: 0.15}
	speed, turning := s.Turn(1.0, 0.0, 0.15)
	if speed != 0.15 {
		t.Errorf("speed = %f; want 0.15", speed)
	}
	if turning != 1.0 {
		t.Errorf("turning = %f; want full lock toward positive diff", turning)
	}
	_, turning = s.Turn(-1.0, 0.0, 0.15)
	if turning != -1.0 {
		t.Errorf("turning = %f; want full lock toward negative diff", turning)
	}
}
