package control

import (
	"math"

	"github.com/robo-magellan/cone-nav/geom"
)

// SweepAngle is one half of the missed-cone search. Two sweeps cover
// about 350 degrees while the short fall leaves an overlap margin so
// accumulated drift cannot open a blind gap.
const SweepAngle = 175.0 * math.Pi / 180.0

// Sweep advances the in-place search rotation.
type Sweep struct {
	Tolerance float64
}

// NextTarget is the heading the current sweep phase rotates toward.
func NextTarget(from float64) float64 {
	return geom.Normalize(from + SweepAngle)
}

// Aligned reports whether the sweep has reached its target heading.
func (s Sweep) Aligned(target, yaw float64) bool {
	return math.Abs(geom.Normalize(target-yaw)) <= s.Tolerance
}

// Turn produces the arc command that keeps the sweep moving: forward
// at the circling speed, full lock toward the remaining error.
func (s Sweep) Turn(target, yaw, speed float64) (float64, float64) {
	diff := geom.Normalize(target - yaw)
	turning := 1.0
	if diff < 0 {
		turning = -1.0
	}
	return speed, turning
}
