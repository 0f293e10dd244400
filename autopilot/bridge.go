package autopilot

import "github.com/robo-magellan/cone-nav/msgs"

// Autopilot modes the navigator drives.
const (
	ModeManual = "MANUAL"
	ModeHold   = "HOLD"
	ModeAuto   = "AUTO"
	ModeGuided = "GUIDED"
	ModeRTL    = "RTL"
)

// Value is a parameter value, either integer or real. The autopilot
// parameter protocol distinguishes the two, so the variant is carried
// explicitly across the bridge instead of overloading a float.
type Value struct {
	Integer int64   `json:"integer"`
	Real    float64 `json:"real"`
	isInt   bool
}

func IntValue(i int64) Value {
	return Value{Integer: i, isInt: true}
}

func RealValue(f float64) Value {
	return Value{Real: f}
}

func (v Value) IsInt() bool {
	return v.isInt
}

// Bridge is the single writer of autopilot commands. Exactly one
// implementation instance is in use per process. The navigator loop
// calls it; in -pwm-test mode main calls it directly and the loop
// never starts.
type Bridge interface {
	SetMode(mode string) error
	Arm(arm bool) error
	SetParam(name string, value Value) error
	SetCurrentWaypoint(seq int) error
	OverrideRC(channels [8]uint16) error
	PublishVelocity(linearX, angularZ float64) error
	PushWaypoints(wps []msgs.Waypoint) error
	PullWaypoints() (int, error)
	ClearWaypoints() error
}
