package control

import (
	"math"

	"github.com/robo-magellan/cone-nav/msgs"
)

// R/C override channel assignment on the rover.
const (
	SteeringChannel = 0
	ThrottleChannel = 2
)

// ServoCalibration maps normalized speed and turning commands onto
// PWM values. The reverse throttle range runs downward from neutral
// (ReverseMax < Neutral) and steering may be calibrated with
// SteeringLeftMax < SteeringRightMax, i.e. decreasing PWM turns left.
type ServoCalibration struct {
	ThrottleNeutral    int
	ThrottleReverseMin int
	ThrottleReverseMax int
	ThrottleFwdMin     int
	ThrottleFwdMax     int
	SteeringNeutral    int
	SteeringLeftMax    int
	SteeringRightMax   int
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Channels builds the 8-channel override for a manual speed command.
// speed and turning are normalized to [-1, 1]; untouched channels are
// left at the no-change sentinel.
//
// Wheel turning is the negation of the commanded turning when driving
// forward, and is preserved as commanded when reversing: steering
// geometry flips the effective direction of the front wheels once the
// rover is backing up.
func (c ServoCalibration) Channels(speed, turning float64) [8]uint16 {
	speed = clamp(speed, -1.0, 1.0)
	turning = clamp(turning, -1.0, 1.0)

	var channels [8]uint16
	for i := range channels {
		channels[i] = msgs.ChanNoChange
	}
	channels[ThrottleChannel] = c.throttlePWM(speed)
	channels[SteeringChannel] = c.steeringPWM(speed, turning)
	return channels
}

func (c ServoCalibration) throttlePWM(speed float64) uint16 {
	if speed == 0 {
		return uint16(c.ThrottleNeutral)
	}
	min, limit := c.ThrottleFwdMin, c.ThrottleFwdMax
	if speed < 0 {
		min, limit = c.ThrottleReverseMin, c.ThrottleReverseMax
	}
	pwm := float64(min) + math.Abs(speed)*float64(limit-min)
	if limit >= min {
		pwm = math.Min(pwm, float64(limit))
	} else {
		pwm = math.Max(pwm, float64(limit))
	}
	return uint16(math.Round(pwm))
}

func (c ServoCalibration) steeringPWM(speed, turning float64) uint16 {
	wheel := turning
	if speed > 0 {
		wheel = -turning
	}
	limit := c.SteeringRightMax
	if wheel < 0 {
		limit = c.SteeringLeftMax
	}
	pwm := float64(c.SteeringNeutral) + math.Abs(wheel)*float64(limit-c.SteeringNeutral)
	return uint16(math.Round(pwm))
}
