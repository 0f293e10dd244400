package control

import (
	"math"

	"github.com/robo-magellan/cone-nav/geom"
)

// Escape strategies after a cone touch.
const (
	EscapeSimpleBackup  = "simple_backup"
	EscapeAlignedBackup = "aligned_backup"
)

// Escape computes the heading-aligned backup command: reverse while
// steering the tail toward the bearing of the next waypoint.
type Escape struct {
	KSpeed         float64
	KTurning       float64
	MinSpeed       float64
	MaxTurning     float64
	AngleTolerance float64
}

type EscapeCommand struct {
	Speed   float64
	Turning float64
	Aligned bool
}

// Align produces one backup step toward targetHeading given the
// current yaw. Aligned is set once the heading error is inside the
// tolerance; the command is then all zero.
func (e Escape) Align(targetHeading, yaw float64) EscapeCommand {
	diff := geom.Normalize(targetHeading - yaw)
	if math.Abs(diff) <= e.AngleTolerance {
		return EscapeCommand{Aligned: true}
	}

	speed := -clamp(e.KSpeed*math.Abs(diff), e.MinSpeed, 1.0)
	turning := math.Min(e.KTurning*math.Abs(diff), e.MaxTurning)
	if diff < 0 {
		turning = -turning
	}
	return EscapeCommand{Speed: speed, Turning: turning}
}
