package control

import (
	"math"
	"testing"
)

func testEscape() Escape {
	return Escape{
		KSpeed:         2.0,
		KTurning:       2.0,
		MinSpeed:       0.7,
		MaxTurning:     5.0,
		AngleTolerance: 0.15,
	}
}

func TestEscapeAligned(t *testing.T) {
	e := testEscape()
	cmd := e.Align(1.0, 1.1)
	if !cmd.Aligned {
		t.Errorf("0.1 rad error inside tolerance should align")
	}
	if cmd.Speed != 0 || cmd.Turning != 0 {
		t.Errorf("aligned command should be zero: %+v", cmd)
	}
}

func TestEscapeBacksUp(t *testing.T) {
	e := testEscape()
	cmd := e.Align(1.0, 0.0)
	if cmd.Aligned {
		t.Errorf("1 rad error should not align")
	}
	if cmd.Speed != -1.0 {
		t.Errorf("speed = %f; want full reverse at -1.0", cmd.Speed)
	}
	if cmd.Turning != 2.0 {
		t.Errorf("turning = %f; want k_turning * diff", cmd.Turning)
	}
}

func TestEscapeMinReverseSpeed(t *testing.T) {
	e := testEscape()
	cmd := e.Align(0.2, 0.0)
	if math.Abs(cmd.Speed+0.7) > 1e-9 {
		t.Errorf("speed = %f; want reverse floor -0.7", cmd.Speed)
	}
	if math.Abs(cmd.Turning-0.4) > 1e-9 {
		t.Errorf("turning = %f; want 0.4", cmd.Turning)
	}
}

func TestEscapeTurnsTowardTarget(t *testing.T) {
	e := testEscape()
	if cmd := e.Align(-1.0, 0.0); cmd.Turning >= 0 {
		t.Errorf("negative diff should turn negative: %+v", cmd)
	}
	// Wrap: target just past -pi from yaw just below pi.
	if cmd := e.Align(-3.0, 3.0); cmd.Turning <= 0 {
		t.Errorf("wrapped diff should turn positive: %+v", cmd)
	}
}
