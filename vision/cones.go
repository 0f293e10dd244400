package vision

import (
	"math"

	"github.com/robo-magellan/cone-nav/msgs"
)

// Distance calibration: a cone at referenceDistance meters fills about
// referenceArea pixels on the mission camera.
const (
	referenceArea     = 3900.0
	referenceDistance = 3.0
)

// Camera holds the intrinsics needed to turn a pixel offset into a
// heading.
type Camera struct {
	HorzFOV    float64 // radians
	HorzPixels float64
}

func (c Camera) focalLength() float64 {
	return c.HorzPixels / 2.0 / math.Tan(c.HorzFOV/2.0)
}

// Select returns the first candidate whose area qualifies. Order of
// the input list is preserved as produced by the cone finder.
func Select(poses []msgs.ConePose, minArea float64) (msgs.ConePose, bool) {
	for _, p := range poses {
		if p.Area >= minArea {
			return p, true
		}
	}
	return msgs.ConePose{}, false
}

// Heading is the bearing of the detection relative to the camera axis.
// Positive offsets are right of center and come back positive.
func (c Camera) Heading(p msgs.ConePose) float64 {
	return math.Atan2(p.X, c.focalLength())
}

// Distance estimates range from apparent area, calibrated against the
// reference cone.
func Distance(p msgs.ConePose) float64 {
	return referenceDistance * math.Sqrt(referenceArea/p.Area)
}
