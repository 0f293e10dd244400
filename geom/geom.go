package geom

import (
	"math"

	"github.com/robo-magellan/cone-nav/msgs"
)

const π = math.Pi

// Yaw extracts the heading from a unit quaternion (ZYX Euler).
func Yaw(q msgs.Quaternion) float64 {
	sinYaw := 2.0 * (q.W*q.Z + q.X*q.Y)
	cosYaw := 1.0 - 2.0*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(sinYaw, cosYaw)
}

// Normalize reduces an angle to (-π, π].
func Normalize(a float64) float64 {
	a = math.Mod(a, 2*π)
	if a > π {
		a -= 2 * π
	} else if a <= -π {
		a += 2 * π
	}
	return a
}

// Bearing is the map-frame heading from one point to another.
func Bearing(from, to msgs.Point) float64 {
	return math.Atan2(to.Y-from.Y, to.X-from.X)
}
