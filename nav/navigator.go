package nav

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robo-magellan/cone-nav/autopilot"
	"github.com/robo-magellan/cone-nav/config"
	"github.com/robo-magellan/cone-nav/control"
	"github.com/robo-magellan/cone-nav/geom"
	"github.com/robo-magellan/cone-nav/mission"
	"github.com/robo-magellan/cone-nav/msgs"
	"github.com/robo-magellan/cone-nav/vision"
)

// Scheduler posts a function back onto the navigator loop after a
// delay. The loop provides the real implementation; tests provide an
// immediate one.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// StatusSink receives the navigator's outbound status publications.
type StatusSink interface {
	PublishState(name string)
	PublishAdjusted(wps []msgs.Waypoint)
}

// Notifier tells the operator about terminal states. May be nil.
type Notifier interface {
	Send(message string) error
}

// Navigator owns the mission context and runs the state machine. It
// is driven exclusively by the loop goroutine: Handle and Tick are
// never called concurrently, so no field needs a lock.
type Navigator struct {
	cfg    config.Config
	bridge autopilot.Bridge
	status StatusSink
	notify Notifier
	sched  Scheduler
	now    func() time.Time

	servo    control.ServoCalibration
	approach control.Approach
	escape   control.Escape
	sweep    control.Sweep

	state        State
	mission      mission.Mission
	mapWaypoints []msgs.Waypoint
	pose         msgs.Pose
	havePose     bool

	coneWpIndex     int
	coneIsClose     bool
	targetHeading   float64
	lastCruiseSpeed float64
	coneLostCount   int
	drivingSince    time.Time

	lastSeq    int
	lastMode   string
	armed      bool
	killSwitch bool
	touched    bool

	// limboSeq invalidates pending timer chains on reset.
	limboSeq int
}

func New(cfg config.Config, bridge autopilot.Bridge, status StatusSink, notify Notifier, sched Scheduler) *Navigator {
	return &Navigator{
		cfg:    cfg,
		bridge: bridge,
		status: status,
		notify: notify,
		sched:  sched,
		now:    time.Now,
		servo:  cfg.Servo(),
		approach: control.Approach{
			Camera:        cfg.Camera(),
			KSpeed:        cfg.ConeApproachKSpeed,
			KTurning:      cfg.ConeApproachKTurning,
			MaxTurning:    cfg.MaxTurning,
			CloseDistance: cfg.ConeCloseDistance,
		},
		escape: control.Escape{
			KSpeed:         cfg.EscapeKSpeed,
			KTurning:       cfg.EscapeKTurning,
			MinSpeed:       cfg.EscapeMinSpeed,
			MaxTurning:     cfg.MaxTurning,
			AngleTolerance: cfg.EscapeAngleTolerance,
		},
		sweep:       control.Sweep{Tolerance: cfg.CirclingAngleTolerance},
		state:       WaitingForStart,
		coneWpIndex: -1,
		lastSeq:     -1,
		killSwitch:  true,
	}
}

// State is the current machine state.
func (n *Navigator) State() State {
	return n.state
}

// Handle dispatches one input event. Every handler is an isolated
// top-level unit: autopilot faults are logged and dropped, never
// propagated to the caller.
func (n *Navigator) Handle(ev Event) {
	if n.state == Limbo {
		return
	}

	switch e := ev.(type) {
	case ExecCommand:
		n.onExecCommand(e.Command)
	case AutopilotState:
		n.onAutopilotState(e)
	case WaypointsChanged:
		n.onWaypointsChanged(e.List)
	case MapWaypoints:
		n.mapWaypoints = e.List.Waypoints
	case RobotPose:
		n.onRobotPose(e.Pose)
	case ConeLocations:
		n.onConeLocations(e.Cones)
	case Touch:
		n.onTouch(e.Pressed)
	case KillSwitch:
		n.onKillSwitch(e.Enabled)
	}
}

// Tick runs the periodic work: publish the current state and enforce
// the cone approach timeout.
func (n *Navigator) Tick() {
	n.status.PublishState(n.state.String())

	if n.state == DrivingToCone && n.cfg.ConeTimeout > 0 &&
		n.now().Sub(n.drivingSince) > n.cfg.ConeTimeout {
		log.Warn("cone approach timed out, searching")
		n.beginCirclingBack()
	}
}

// Snapshot is the status view served over HTTP.
type Snapshot struct {
	State       string `json:"state"`
	CurrentSeq  int    `json:"current_seq"`
	Waypoints   int    `json:"waypoints"`
	ConeIndex   int    `json:"cone_index"`
	ConeIsClose bool   `json:"cone_is_close"`
	ConeLost    int    `json:"cone_lost"`
	Mode        string `json:"mode"`
	Armed       bool   `json:"armed"`
	KillSwitch  bool   `json:"kill_switch_enabled"`
}

func (n *Navigator) Snapshot() Snapshot {
	return Snapshot{
		State:       n.state.String(),
		CurrentSeq:  n.mission.CurrentSeq,
		Waypoints:   n.mission.Len(),
		ConeIndex:   n.coneWpIndex,
		ConeIsClose: n.coneIsClose,
		ConeLost:    n.coneLostCount,
		Mode:        n.lastMode,
		Armed:       n.armed,
		KillSwitch:  n.killSwitch,
	}
}

func (n *Navigator) onExecCommand(cmd string) {
	switch cmd {
	case msgs.CmdReset:
		n.reset()
	case msgs.CmdStart:
		n.start()
	case msgs.CmdAdjustWaypoints:
		n.adjustWaypoints()
	default:
		log.WithField("cmd", cmd).Warn("invalid exec command")
	}
}

func (n *Navigator) reset() {
	log.Info("reset")
	n.limboSeq++
	n.setManualSpeed(0, 0)
	n.state = WaitingForStart
	n.coneWpIndex = -1
	n.coneIsClose = false
	n.coneLostCount = 0
	n.lastSeq = -1
	n.touched = false
}

func (n *Navigator) start() {
	if n.state != WaitingForStart {
		log.WithField("state", n.state).Warn("start ignored")
		return
	}
	if !n.killSwitch {
		log.Warn("start refused: kill switch disabled")
		return
	}
	if n.mission.Len() < 2 {
		log.WithField("waypoints", n.mission.Len()).Error("start refused: need at least 2 waypoints")
		return
	}

	log.WithField("waypoints", n.mission.Len()).Info("starting mission")
	if n.cfg.GcsID != 0 {
		n.call(n.bridge.SetParam("SYSID_MYGCS", autopilot.IntValue(int64(n.cfg.GcsID))))
	}
	if _, err := n.bridge.PullWaypoints(); err != nil {
		log.WithError(err).Warn("waypoint pull failed")
	}
	n.call(n.bridge.Arm(true))

	// Give the autopilot a second to finish arming before the mission
	// is kicked off.
	n.runSteps([]limboStep{
		{wait: time.Second},
		{run: func() {
			n.followWaypoints(1)
		}},
	})
}

func (n *Navigator) adjustWaypoints() {
	adjusted, err := mission.Adjust(n.mapWaypoints)
	if err != nil {
		log.WithError(err).Error("adjust waypoints refused")
		return
	}
	log.WithField("count", len(adjusted)).Info("publishing adjusted waypoints")
	n.status.PublishAdjusted(adjusted)
}

func (n *Navigator) onAutopilotState(e AutopilotState) {
	if e.Mode != n.lastMode {
		log.WithField("mode", e.Mode).Info("autopilot mode")
	}
	if e.Armed != n.armed {
		log.WithField("armed", e.Armed).Info("autopilot arming")
	}
	n.lastMode = e.Mode
	n.armed = e.Armed

	// The autopilot drops to HOLD when it runs out of mission: it has
	// reached the cone waypoint without a touch.
	if n.state == FollowingWaypoints && e.Mode == autopilot.ModeHold {
		n.beginCirclingBack()
	}
}

func (n *Navigator) onWaypointsChanged(list msgs.WaypointList) {
	n.mission.Waypoints = list.Waypoints
	n.mission.CurrentSeq = list.CurrentSeq

	if n.state != FollowingWaypoints {
		return
	}

	if n.coneWpIndex >= 0 && list.CurrentSeq > n.coneWpIndex {
		log.WithFields(log.Fields{"seq": list.CurrentSeq, "cone": n.coneWpIndex}).
			Warn("passed cone waypoint without a touch")
		n.beginCirclingBack()
		return
	}

	if list.CurrentSeq != n.lastSeq {
		n.currentWaypointChanged(list.CurrentSeq)
	}
}

func (n *Navigator) currentWaypointChanged(seq int) {
	n.lastSeq = seq
	n.coneIsClose = false
	n.updateCruiseSpeed(seq)

	meta := n.mission.Meta(seq)
	if meta.IsCone {
		n.coneWpIndex = seq
		n.coneLostCount = 0
		log.WithField("seq", seq).Info("current waypoint has a cone")
	} else {
		n.coneWpIndex = -1
	}
}

// updateCruiseSpeed performs the HOLD / CRUISE_SPEED / AUTO dance the
// autopilot requires to accept cruise changes mid-mission.
func (n *Navigator) updateCruiseSpeed(seq int) {
	cruise := n.mission.CruiseSpeed(seq, n.cfg.NormalSpeed)
	if cruise == n.lastCruiseSpeed {
		return
	}
	log.WithFields(log.Fields{"seq": seq, "cruise": cruise}).Info("updating cruise speed")
	n.call(n.bridge.SetMode(autopilot.ModeHold))
	n.call(n.bridge.SetParam("CRUISE_SPEED", autopilot.RealValue(cruise)))
	n.call(n.bridge.SetMode(autopilot.ModeAuto))
	n.lastCruiseSpeed = cruise
}

// followWaypoints points the autopilot at seq and resumes the mission.
func (n *Navigator) followWaypoints(seq int) {
	n.updateCruiseSpeed(seq)
	n.call(n.bridge.SetCurrentWaypoint(seq))
	n.call(n.bridge.SetMode(autopilot.ModeAuto))
	n.lastSeq = seq
	n.coneIsClose = false
	meta := n.mission.Meta(seq)
	if meta.IsCone {
		n.coneWpIndex = seq
		n.coneLostCount = 0
	} else {
		n.coneWpIndex = -1
	}
	n.state = FollowingWaypoints
	log.WithField("seq", seq).Info("following waypoints")
}

func (n *Navigator) onRobotPose(pose msgs.Pose) {
	n.pose = pose
	n.havePose = true

	if n.state == EscapingCone {
		n.escapeTick()
	}
}

func (n *Navigator) onConeLocations(cones []msgs.ConePose) {
	switch n.state {
	case FollowingWaypoints, CirclingBack, CirclingForward:
		if det, ok := vision.Select(cones, n.cfg.ConeRecoveryMinArea); ok && n.coneWpIndex >= 0 {
			n.beginDrivingToCone(det)
			return
		}
		if n.state == CirclingBack || n.state == CirclingForward {
			n.advanceSweep()
		}

	case DrivingToCone:
		det, ok := vision.Select(cones, n.cfg.ConeNormalMinArea)
		if !ok {
			n.coneLostCount++
			if n.coneLostCount > n.cfg.ConeLostLimit {
				log.WithField("count", n.coneLostCount).Warn("cone lost, searching")
				n.beginCirclingBack()
			}
			return
		}
		n.coneLostCount = 0
		n.applyApproach(det)
	}
}

func (n *Navigator) beginDrivingToCone(det msgs.ConePose) {
	log.WithFields(log.Fields{"cone": n.coneWpIndex, "area": det.Area}).Info("driving to cone")
	n.coneLostCount = 0
	n.drivingSince = n.now()
	if n.cfg.ConeApproachUseThrottle {
		n.call(n.bridge.SetMode(autopilot.ModeManual))
	} else {
		n.call(n.bridge.SetMode(autopilot.ModeGuided))
	}
	n.state = DrivingToCone
	n.applyApproach(det)
}

func (n *Navigator) applyApproach(det msgs.ConePose) {
	meta := n.mission.Meta(n.coneWpIndex)
	maxSpeed := meta.CruiseFactor
	minSpeed := meta.ConeMinSpeedFactor * meta.CruiseFactor

	cmd := n.approach.Command(det, minSpeed, maxSpeed, n.coneIsClose)
	n.coneIsClose = cmd.Close

	if n.cfg.ConeApproachUseThrottle {
		n.setManualSpeed(cmd.Speed, cmd.Turning)
		return
	}
	linear := cmd.Speed * n.cfg.NormalSpeed
	if linear < n.cfg.MinSpeed {
		linear = n.cfg.MinSpeed
	}
	// turning was already limited to max_turning; the setpoint scales
	// it by max_turning again, treating it as a unit fraction of the
	// allowed rate.
	n.call(n.bridge.PublishVelocity(linear, cmd.Turning*n.cfg.MaxTurning))
}

func (n *Navigator) onTouch(pressed bool) {
	if !pressed {
		n.touched = false
		return
	}
	if n.state != DrivingToCone || n.touched {
		return
	}
	n.touched = true
	n.setManualSpeed(0, 0)

	if n.coneWpIndex >= n.mission.LastIndex() {
		log.Info("touched the last cone")
		n.call(n.bridge.SetMode(autopilot.ModeHold))
		n.finish(Finished, "mission finished: last cone touched")
		return
	}

	log.WithField("cone", n.coneWpIndex).Info("cone touched, backing away")
	n.call(n.bridge.SetMode(autopilot.ModeManual))
	n.runSteps([]limboStep{
		{run: func() {
			n.setManualSpeed(n.cfg.DirectionChangeReverseSpeed, 0)
		}, wait: n.cfg.DirectionChangeReverseDuration},
		{run: func() {
			n.setManualSpeed(0, 0)
		}, wait: n.cfg.DirectionChangeIdleDuration},
		{run: n.dispatchEscape},
	})
}

func (n *Navigator) dispatchEscape() {
	if n.cfg.EscapeStrategy == control.EscapeAlignedBackup && len(n.mapWaypoints) > n.coneWpIndex+1 {
		cone := n.mapWaypoints[n.coneWpIndex]
		next := n.mapWaypoints[n.coneWpIndex+1]
		n.targetHeading = geom.Bearing(
			msgs.Point{X: cone.XLat, Y: cone.YLong},
			msgs.Point{X: next.XLat, Y: next.YLong},
		)
		n.state = EscapingCone
		log.WithField("target", n.targetHeading).Info("escaping: aligning with next leg")
		return
	}

	if n.cfg.EscapeStrategy == control.EscapeAlignedBackup {
		log.Warn("no map waypoints for aligned backup, using simple backup")
	}
	n.runSteps([]limboStep{
		{run: func() {
			n.setManualSpeed(-n.cfg.EscapeMinSpeed, 0)
		}, wait: n.cfg.EscapeBackupDuration},
		{run: func() {
			n.setManualSpeed(0, 0)
		}, wait: 2 * time.Second},
		{run: func() {
			n.followWaypoints(n.coneWpIndex + 1)
		}},
	})
}

func (n *Navigator) escapeTick() {
	yaw := geom.Yaw(n.pose.Orientation)
	cmd := n.escape.Align(n.targetHeading, yaw)
	if !cmd.Aligned {
		n.setManualSpeed(cmd.Speed, cmd.Turning)
		return
	}

	n.setManualSpeed(0, 0)
	n.runSteps([]limboStep{
		{wait: n.cfg.DirectionChangeIdleDuration},
		{run: func() {
			n.followWaypoints(n.coneWpIndex + 1)
		}},
	})
}

func (n *Navigator) beginCirclingBack() {
	if n.coneWpIndex < 0 {
		log.Warn("no cone waypoint to search for")
		return
	}
	if !n.havePose {
		log.Warn("no pose yet, cannot search")
		return
	}

	yaw := geom.Yaw(n.pose.Orientation)
	n.targetHeading = control.NextTarget(yaw)
	n.coneLostCount = 0
	log.WithFields(log.Fields{"cone": n.coneWpIndex, "target": n.targetHeading}).
		Info("circling back to find cone")

	n.call(n.bridge.SetMode(autopilot.ModeManual))
	speed, turning := n.sweep.Turn(n.targetHeading, yaw, n.circlingSpeed())
	n.setManualSpeed(speed, turning)
	n.state = CirclingBack
}

func (n *Navigator) advanceSweep() {
	if !n.havePose {
		return
	}
	yaw := geom.Yaw(n.pose.Orientation)

	if !n.sweep.Aligned(n.targetHeading, yaw) {
		speed, turning := n.sweep.Turn(n.targetHeading, yaw, n.circlingSpeed())
		n.setManualSpeed(speed, turning)
		return
	}

	if n.state == CirclingBack {
		n.targetHeading = control.NextTarget(n.targetHeading)
		n.state = CirclingForward
		log.WithField("target", n.targetHeading).Info("circling forward")
		return
	}

	// Both sweeps done without a detection.
	n.setManualSpeed(0, 0)
	if n.coneWpIndex < n.mission.LastIndex() {
		log.WithField("cone", n.coneWpIndex).Warn("cone not found, skipping it")
		n.followWaypoints(n.coneWpIndex + 1)
		return
	}
	n.call(n.bridge.SetMode(autopilot.ModeHold))
	n.finish(Failed, "mission failed: last cone not found")
}

func (n *Navigator) circlingSpeed() float64 {
	speed := n.cfg.MinSpeed * n.cfg.CirclingRelativeSpeed
	if speed > 1.0 {
		speed = 1.0
	}
	return speed
}

func (n *Navigator) finish(s State, message string) {
	n.state = s
	n.coneWpIndex = -1
	n.coneIsClose = false
	log.Info(message)
	if n.notify != nil {
		if err := n.notify.Send(message); err != nil {
			log.WithError(err).Warn("notification failed")
		}
	}
}

func (n *Navigator) onKillSwitch(enabled bool) {
	if enabled == n.killSwitch {
		return
	}
	n.killSwitch = enabled
	if enabled {
		log.Info("kill switch enabled")
		return
	}
	log.Warn("kill switch disabled")
	switch n.state {
	case DrivingToCone, EscapingCone, CirclingBack, CirclingForward:
		n.setManualSpeed(0, 0)
	}
}

func (n *Navigator) setManualSpeed(speed, turning float64) {
	n.call(n.bridge.OverrideRC(n.servo.Channels(speed, turning)))
}

// call logs a transient autopilot fault and moves on. The next event
// or tick re-issues whatever command matters.
func (n *Navigator) call(err error) {
	if err != nil {
		log.WithError(err).Error("autopilot call failed")
	}
}

// limboStep is one timed step of a braking/reversing sequence: run the
// command, then hold the machine in limbo for wait.
type limboStep struct {
	run  func()
	wait time.Duration
}

// runSteps executes a step chain. While steps remain the machine sits
// in Limbo and discards input events; the final step settles into the
// next state.
func (n *Navigator) runSteps(steps []limboStep) {
	n.limboSeq++
	n.stepChain(n.limboSeq, steps)
}

func (n *Navigator) stepChain(seq int, steps []limboStep) {
	if seq != n.limboSeq {
		return
	}
	if len(steps) == 0 {
		return
	}

	step := steps[0]
	if step.run != nil {
		step.run()
	}
	if step.wait <= 0 {
		n.stepChain(seq, steps[1:])
		return
	}
	n.state = Limbo
	n.sched.After(step.wait, func() {
		n.stepChain(seq, steps[1:])
	})
}

// String is a compact one-line summary used by the progress job.
func (s Snapshot) String() string {
	return fmt.Sprintf("%s seq=%d/%d cone=%d lost=%d mode=%s",
		s.State, s.CurrentSeq, s.Waypoints, s.ConeIndex, s.ConeLost, s.Mode)
}
