package config

import (
	"flag"
	"math"
	"time"

	"github.com/peterbourgon/ff"

	"github.com/robo-magellan/cone-nav/control"
	"github.com/robo-magellan/cone-nav/vision"
)

// Config holds every named option of the navigator. Flags may also be
// supplied through the environment (FF's no-prefix env mapping), which
// is how the launch scripts set them.
type Config struct {
	Rate        int
	NormalSpeed float64
	MinSpeed    float64
	MaxTurning  float64

	ThrottleNeutral    int
	ThrottleReverseMin int
	ThrottleReverseMax int
	ThrottleFwdMin     int
	ThrottleFwdMax     int
	SteeringNeutral    int
	SteeringLeftMax    int
	SteeringRightMax   int

	ConeNormalMinArea   float64
	ConeRecoveryMinArea float64
	ConeCloseDistance   float64

	ConeApproachUseThrottle bool
	ConeApproachKSpeed      float64
	ConeApproachKTurning    float64
	ConeTimeout             time.Duration

	EscapeStrategy       string
	EscapeBackupDuration time.Duration
	EscapeKSpeed         float64
	EscapeKTurning       float64
	EscapeMinSpeed       float64
	EscapeAngleTolerance float64

	DirectionChangeReverseSpeed    float64
	DirectionChangeReverseDuration time.Duration
	DirectionChangeIdleDuration    time.Duration

	CirclingRelativeSpeed  float64
	CirclingAngleTolerance float64

	HorzFOVDegrees float64
	HorzPixels     int

	ConeLostLimit int

	// GcsID, when nonzero, is written to SYSID_MYGCS on start so the
	// autopilot accepts overrides from this companion computer.
	GcsID int

	BridgeURL  string
	Listen     string
	Cpuprofile bool
	PwmTest    bool

	XmppHost     string
	XmppJid      string
	XmppPassword string
	XmppTo       string
}

// Default returns the stock tuning. Tests build on it.
func Default() Config {
	return Config{
		Rate:                           10,
		NormalSpeed:                    2.0,
		MinSpeed:                       0.1,
		MaxTurning:                     5.0,
		ThrottleNeutral:                1500,
		ThrottleReverseMin:             1500,
		ThrottleReverseMax:             1000,
		ThrottleFwdMin:                 1500,
		ThrottleFwdMax:                 2000,
		SteeringNeutral:                1500,
		SteeringLeftMax:                1000,
		SteeringRightMax:               2000,
		ConeNormalMinArea:              100,
		ConeRecoveryMinArea:            400,
		ConeCloseDistance:              2.0,
		ConeApproachUseThrottle:        false,
		ConeApproachKSpeed:             0.25,
		ConeApproachKTurning:           0.5,
		ConeTimeout:                    60 * time.Second,
		EscapeStrategy:                 control.EscapeSimpleBackup,
		EscapeBackupDuration:           1 * time.Second,
		EscapeKSpeed:                   2.0,
		EscapeKTurning:                 2.0,
		EscapeMinSpeed:                 0.7,
		EscapeAngleTolerance:           0.15,
		DirectionChangeReverseSpeed:    -1.0,
		DirectionChangeReverseDuration: 1500 * time.Millisecond,
		DirectionChangeIdleDuration:    1 * time.Second,
		CirclingRelativeSpeed:          1.5,
		CirclingAngleTolerance:         0.15,
		HorzFOVDegrees:                 70,
		HorzPixels:                     640,
		ConeLostLimit:                  15,
		BridgeURL:                      "ws://localhost:9090",
		Listen:                         ":8888",
	}
}

// Camera builds the vision intrinsics from the configured optics.
func (c Config) Camera() vision.Camera {
	return vision.Camera{
		HorzFOV:    c.HorzFOVDegrees * math.Pi / 180.0,
		HorzPixels: float64(c.HorzPixels),
	}
}

// Servo builds the PWM calibration.
func (c Config) Servo() control.ServoCalibration {
	return control.ServoCalibration{
		ThrottleNeutral:    c.ThrottleNeutral,
		ThrottleReverseMin: c.ThrottleReverseMin,
		ThrottleReverseMax: c.ThrottleReverseMax,
		ThrottleFwdMin:     c.ThrottleFwdMin,
		ThrottleFwdMax:     c.ThrottleFwdMax,
		SteeringNeutral:    c.SteeringNeutral,
		SteeringLeftMax:    c.SteeringLeftMax,
		SteeringRightMax:   c.SteeringRightMax,
	}
}

// Load parses the flag set over the defaults.
func Load(args []string) (Config, error) {
	c := Default()

	fs := flag.NewFlagSet("cone-nav", flag.ExitOnError)
	var (
		coneTimeout   = fs.Float64("cone-timeout-seconds", c.ConeTimeout.Seconds(), "give up approaching a cone after this long")
		escapeBackup  = fs.Float64("escape-backup-duration", c.EscapeBackupDuration.Seconds(), "simple backup reverse time")
		dcReverse     = fs.Float64("direction-change-reverse-duration", c.DirectionChangeReverseDuration.Seconds(), "reverse time after a touch")
		dcIdle        = fs.Float64("direction-change-idle-duration", c.DirectionChangeIdleDuration.Seconds(), "idle time between direction changes")
	)
	fs.IntVar(&c.Rate, "rate", c.Rate, "status tick rate in Hz")
	fs.Float64Var(&c.NormalSpeed, "normal-speed", c.NormalSpeed, "nominal cruise speed m/s")
	fs.Float64Var(&c.MinSpeed, "min-speed", c.MinSpeed, "minimum drive speed")
	fs.Float64Var(&c.MaxTurning, "max-turning", c.MaxTurning, "maximum turning rate")
	fs.IntVar(&c.ThrottleNeutral, "throttle-neutral", c.ThrottleNeutral, "")
	fs.IntVar(&c.ThrottleReverseMin, "throttle-reverse-min", c.ThrottleReverseMin, "")
	fs.IntVar(&c.ThrottleReverseMax, "throttle-reverse-max", c.ThrottleReverseMax, "")
	fs.IntVar(&c.ThrottleFwdMin, "throttle-fwd-min", c.ThrottleFwdMin, "")
	fs.IntVar(&c.ThrottleFwdMax, "throttle-fwd-max", c.ThrottleFwdMax, "")
	fs.IntVar(&c.SteeringNeutral, "steering-neutral", c.SteeringNeutral, "")
	fs.IntVar(&c.SteeringLeftMax, "steering-left-max", c.SteeringLeftMax, "")
	fs.IntVar(&c.SteeringRightMax, "steering-right-max", c.SteeringRightMax, "")
	fs.Float64Var(&c.ConeNormalMinArea, "cone-normal-min-area", c.ConeNormalMinArea, "minimum detection area while approaching")
	fs.Float64Var(&c.ConeRecoveryMinArea, "cone-recovery-min-area", c.ConeRecoveryMinArea, "minimum detection area to start approaching")
	fs.Float64Var(&c.ConeCloseDistance, "cone-close-distance", c.ConeCloseDistance, "distance at which the speed ceiling collapses")
	fs.BoolVar(&c.ConeApproachUseThrottle, "cone-approach-use-throttle", c.ConeApproachUseThrottle, "approach with servo override instead of guided setpoints")
	fs.Float64Var(&c.ConeApproachKSpeed, "cone-approach-k-speed", c.ConeApproachKSpeed, "")
	fs.Float64Var(&c.ConeApproachKTurning, "cone-approach-k-turning", c.ConeApproachKTurning, "")
	fs.StringVar(&c.EscapeStrategy, "escape-strategy", c.EscapeStrategy, "simple_backup or aligned_backup")
	fs.Float64Var(&c.EscapeKSpeed, "escape-k-speed", c.EscapeKSpeed, "")
	fs.Float64Var(&c.EscapeKTurning, "escape-k-turning", c.EscapeKTurning, "")
	fs.Float64Var(&c.EscapeMinSpeed, "escape-min-speed", c.EscapeMinSpeed, "")
	fs.Float64Var(&c.EscapeAngleTolerance, "escape-angle-tolerance", c.EscapeAngleTolerance, "")
	fs.Float64Var(&c.DirectionChangeReverseSpeed, "direction-change-reverse-speed", c.DirectionChangeReverseSpeed, "")
	fs.Float64Var(&c.CirclingRelativeSpeed, "circling-relative-speed", c.CirclingRelativeSpeed, "")
	fs.Float64Var(&c.CirclingAngleTolerance, "circling-angle-tolerance", c.CirclingAngleTolerance, "")
	fs.Float64Var(&c.HorzFOVDegrees, "horz-fov", c.HorzFOVDegrees, "camera horizontal field of view, degrees")
	fs.IntVar(&c.HorzPixels, "horz-pixels", c.HorzPixels, "camera horizontal resolution")
	fs.IntVar(&c.ConeLostLimit, "cone-lost-limit", c.ConeLostLimit, "consecutive empty detections before searching")
	fs.IntVar(&c.GcsID, "gcs-id", c.GcsID, "GCS system id to write to SYSID_MYGCS")
	fs.StringVar(&c.BridgeURL, "bridge-url", c.BridgeURL, "rosbridge websocket url")
	fs.StringVar(&c.Listen, "listen", c.Listen, "http listen address")
	fs.BoolVar(&c.Cpuprofile, "cpuprofile", c.Cpuprofile, "profile request handling")
	fs.BoolVar(&c.PwmTest, "pwm-test", c.PwmTest, "run a throttle/steering sweep and exit")
	fs.StringVar(&c.XmppHost, "xmpp-host", c.XmppHost, "")
	fs.StringVar(&c.XmppJid, "xmpp-jid", c.XmppJid, "")
	fs.StringVar(&c.XmppPassword, "xmpp-password", c.XmppPassword, "")
	fs.StringVar(&c.XmppTo, "xmpp-to", c.XmppTo, "")

	if err := ff.Parse(fs, args, ff.WithEnvVarNoPrefix()); err != nil {
		return c, err
	}

	c.ConeTimeout = seconds(*coneTimeout)
	c.EscapeBackupDuration = seconds(*escapeBackup)
	c.DirectionChangeReverseDuration = seconds(*dcReverse)
	c.DirectionChangeIdleDuration = seconds(*dcIdle)
	return c, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
