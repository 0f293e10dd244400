package control

import (
	"math"

	"github.com/robo-magellan/cone-nav/msgs"
	"github.com/robo-magellan/cone-nav/vision"
)

// Approach is the two-term proportional controller that drives the
// rover onto a detected cone.
type Approach struct {
	Camera        vision.Camera
	KSpeed        float64
	KTurning      float64
	MaxTurning    float64
	CloseDistance float64
}

// ApproachCommand is a normalized drive command plus the estimates it
// was derived from.
type ApproachCommand struct {
	Speed    float64
	Turning  float64
	Distance float64
	Heading  float64
	Close    bool
}

// Command computes the drive command for one detection. minSpeed and
// maxSpeed are the normalized floor and ceiling for this waypoint.
// close latches: once the cone has come within CloseDistance the
// ceiling collapses onto the floor for the rest of the episode.
func (a Approach) Command(det msgs.ConePose, minSpeed, maxSpeed float64, close bool) ApproachCommand {
	d := vision.Distance(det)
	h := a.Camera.Heading(det)

	close = close || d <= a.CloseDistance
	if close {
		maxSpeed = minSpeed
	}

	speed := clamp(a.KSpeed*d, minSpeed, maxSpeed)
	turning := math.Min(a.KTurning*math.Abs(h), a.MaxTurning)
	if h < 0 {
		turning = -turning
	}

	return ApproachCommand{
		Speed:    speed,
		Turning:  turning,
		Distance: d,
		Heading:  h,
		Close:    close,
	}
}
