package geom

import (
	"math"
	"testing"

	"github.com/robo-magellan/cone-nav/msgs"
)

func TestNormalizeRange(t *testing.T) {
	for _, a := range []float64{0, 1, -1, 3.5, -3.5, 6.5, -6.5, 100, -100} {
		n := Normalize(a)
		if n <= -math.Pi || n > math.Pi {
			t.Errorf("Normalize(%f) = %f; out of (-pi, pi]", a, n)
		}
	}
}

func TestNormalizePeriodic(t *testing.T) {
	for _, a := range []float64{0.3, -2.1, 1.7} {
		for k := -3; k <= 3; k++ {
			n := Normalize(a + 2*math.Pi*float64(k))
			if math.Abs(n-a) > 1e-9 {
				t.Errorf("Normalize(%f + 2pi*%d) = %f; want %f", a, k, n, a)
			}
		}
	}
}

func TestNormalizeBoundary(t *testing.T) {
	if n := Normalize(-math.Pi); math.Abs(n-math.Pi) > 1e-9 {
		t.Errorf("Normalize(-pi) = %f; want pi", n)
	}
	if n := Normalize(math.Pi); math.Abs(n-math.Pi) > 1e-9 {
		t.Errorf("Normalize(pi) = %f; want pi", n)
	}
}

func TestBearing(t *testing.T) {
	origin := msgs.Point{}
	if b := Bearing(origin, msgs.Point{X: 1}); b != 0 {
		t.Errorf("Bearing(origin, {1,0}) = %f; want 0", b)
	}
	if b := Bearing(origin, msgs.Point{Y: 1}); math.Abs(b-math.Pi/2) > 1e-9 {
		t.Errorf("Bearing(origin, {0,1}) = %f; want pi/2", b)
	}
	if b := Bearing(msgs.Point{X: 2, Y: 2}, msgs.Point{X: 1, Y: 2}); math.Abs(math.Abs(b)-math.Pi) > 1e-9 {
		t.Errorf("Bearing({2,2}, {1,2}) = %f; want +-pi", b)
	}
}

func TestYaw(t *testing.T) {
	// Rotation of pi/2 about Z.
	q := msgs.Quaternion{Z: math.Sin(math.Pi / 4), W: math.Cos(math.Pi / 4)}
	if y := Yaw(q); math.Abs(y-math.Pi/2) > 1e-9 {
		t.Errorf("Yaw(pi/2 about Z) = %f; want pi/2", y)
	}
	if y := Yaw(msgs.Quaternion{W: 1}); y != 0 {
		t.Errorf("Yaw(identity) = %f; want 0", y)
	}
	q = msgs.Quaternion{Z: math.Sin(-math.Pi / 6), W: math.Cos(-math.Pi / 6)}
	if y := Yaw(q); math.Abs(y+math.Pi/3) > 1e-9 {
		t.Errorf("Yaw(-pi/3 about Z) = %f; want -pi/3", y)
	}
}
