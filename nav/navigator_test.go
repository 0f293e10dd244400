package nav

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/robo-magellan/cone-nav/autopilot"
	"github.com/robo-magellan/cone-nav/config"
	"github.com/robo-magellan/cone-nav/control"
	"github.com/robo-magellan/cone-nav/msgs"
)

type fakeBridge struct {
	calls []string
	rc    [][8]uint16
	vels  [][2]float64
}

func (b *fakeBridge) SetMode(mode string) error {
	b.calls = append(b.calls, "mode:"+mode)
	return nil
}

func (b *fakeBridge) Arm(arm bool) error {
	b.calls = append(b.calls, fmt.Sprintf("arm:%t", arm))
	return nil
}

func (b *fakeBridge) SetParam(name string, v autopilot.Value) error {
	if v.IsInt() {
		b.calls = append(b.calls, fmt.Sprintf("param:%s=%d", name, v.Integer))
	} else {
		b.calls = append(b.calls, fmt.Sprintf("param:%s=%g", name, v.Real))
	}
	return nil
}

func (b *fakeBridge) SetCurrentWaypoint(seq int) error {
	b.calls = append(b.calls, fmt.Sprintf("current:%d", seq))
	return nil
}

func (b *fakeBridge) OverrideRC(channels [8]uint16) error {
	b.calls = append(b.calls, "rc")
	b.rc = append(b.rc, channels)
	return nil
}

func (b *fakeBridge) PublishVelocity(linearX, angularZ float64) error {
	b.calls = append(b.calls, "vel")
	b.vels = append(b.vels, [2]float64{linearX, angularZ})
	return nil
}

func (b *fakeBridge) PushWaypoints(wps []msgs.Waypoint) error { return nil }
func (b *fakeBridge) PullWaypoints() (int, error)             { return 0, nil }
func (b *fakeBridge) ClearWaypoints() error                   { return nil }

func (b *fakeBridge) lastRC() [8]uint16 {
	return b.rc[len(b.rc)-1]
}

type fakeSink struct {
	states   []string
	adjusted [][]msgs.Waypoint
}

func (s *fakeSink) PublishState(name string) { s.states = append(s.states, name) }

func (s *fakeSink) PublishAdjusted(wps []msgs.Waypoint) { s.adjusted = append(s.adjusted, wps) }

// fakeSched runs timer steps immediately unless queued, in which case
// the test drains them by hand.
type fakeSched struct {
	queued bool
	queue  []func()
}

func (s *fakeSched) After(d time.Duration, fn func()) {
	if s.queued {
		s.queue = append(s.queue, fn)
		return
	}
	fn()
}

func (s *fakeSched) drain() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func poseWithYaw(yaw float64) msgs.Pose {
	return msgs.Pose{
		Orientation: msgs.Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)},
	}
}

// Four waypoints: home, plain, cone (100% cruise, 30% min), final cone.
func missionFour() msgs.WaypointList {
	return msgs.WaypointList{
		Waypoints: []msgs.Waypoint{
			{ZAlt: 0},
			{ZAlt: 0},
			{ZAlt: 1030},
			{ZAlt: 2000},
		},
	}
}

func newTestNavigator(cfg config.Config) (*Navigator, *fakeBridge, *fakeSink, *fakeSched) {
	bridge := &fakeBridge{}
	sink := &fakeSink{}
	sched := &fakeSched{}
	n := New(cfg, bridge, sink, nil, sched)
	return n, bridge, sink, sched
}

func startMission(t *testing.T, n *Navigator) {
	t.Helper()
	n.Handle(WaypointsChanged{List: missionFour()})
	n.Handle(ExecCommand{Command: msgs.CmdStart})
	if n.State() != FollowingWaypoints {
		t.Fatalf("state after start = %s; want FOLLOWING_WAYPOINTS", n.State())
	}
}

func driveToCone(t *testing.T, n *Navigator, seq int) {
	t.Helper()
	list := missionFour()
	list.CurrentSeq = seq
	n.Handle(WaypointsChanged{List: list})
	n.Handle(ConeLocations{Cones: []msgs.ConePose{{X: 64, Area: 500}}})
	if n.State() != DrivingToCone {
		t.Fatalf("state = %s; want DRIVING_TO_CONE", n.State())
	}
}

func TestStartRefusedWithoutWaypoints(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	n.Handle(ExecCommand{Command: msgs.CmdStart})
	if n.State() != WaitingForStart {
		t.Errorf("state = %s; want WAITING_FOR_START", n.State())
	}
	if len(bridge.calls) != 0 {
		t.Errorf("no autopilot calls expected, got %v", bridge.calls)
	}
}

func TestStartArmsAndFollows(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)

	joined := strings.Join(bridge.calls, " ")
	for _, want := range []string{"arm:true", "param:CRUISE_SPEED=2", "current:1", "mode:AUTO"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in calls %v", want, bridge.calls)
		}
	}
}

func TestCruiseSpeedDance(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)

	// The parameter write must be bracketed by HOLD before and AUTO
	// after.
	paramIdx := -1
	for i, c := range bridge.calls {
		if strings.HasPrefix(c, "param:CRUISE_SPEED") {
			paramIdx = i
		}
	}
	if paramIdx < 1 {
		t.Fatalf("no cruise speed write in %v", bridge.calls)
	}
	if bridge.calls[paramIdx-1] != "mode:HOLD" {
		t.Errorf("call before cruise write = %s; want mode:HOLD", bridge.calls[paramIdx-1])
	}
	if bridge.calls[paramIdx+1] != "mode:AUTO" {
		t.Errorf("call after cruise write = %s; want mode:AUTO", bridge.calls[paramIdx+1])
	}
}

func TestFullMission(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)

	// Autopilot reaches the cone waypoint.
	driveToCone(t, n, 2)

	// Guided approach: far cone saturates to full cruise speed.
	vel := bridge.vels[len(bridge.vels)-1]
	if math.Abs(vel[0]-2.0) > 1e-9 {
		t.Errorf("linear.x = %f; want 2.0", vel[0])
	}

	// Touch: back off, then resume at the next waypoint.
	n.Handle(Touch{Pressed: true})
	if n.State() != FollowingWaypoints {
		t.Fatalf("state after touch = %s; want FOLLOWING_WAYPOINTS", n.State())
	}
	joined := strings.Join(bridge.calls, " ")
	if !strings.Contains(joined, "current:3") {
		t.Errorf("mission should resume at waypoint 3: %v", bridge.calls)
	}

	// Final cone.
	n.Handle(Touch{Pressed: false})
	driveToCone(t, n, 3)
	n.Handle(Touch{Pressed: true})
	if n.State() != Finished {
		t.Errorf("state = %s; want FINISHED", n.State())
	}
	if bridge.calls[len(bridge.calls)-1] != "mode:HOLD" {
		t.Errorf("last call = %s; want mode:HOLD", bridge.calls[len(bridge.calls)-1])
	}
}

func TestMissedConeStartsCircling(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})

	list := missionFour()
	list.CurrentSeq = 2
	n.Handle(WaypointsChanged{List: list})

	// Sequence jumps past the cone without a touch.
	list.CurrentSeq = 3
	n.Handle(WaypointsChanged{List: list})

	if n.State() != CirclingBack {
		t.Fatalf("state = %s; want CIRCLING_BACK", n.State())
	}
	want := control.SweepAngle
	if math.Abs(n.targetHeading-want) > 1e-9 {
		t.Errorf("target heading = %f; want yaw+175deg = %f", n.targetHeading, want)
	}
	joined := strings.Join(bridge.calls, " ")
	if !strings.Contains(joined, "mode:MANUAL") {
		t.Errorf("circling should switch to MANUAL: %v", bridge.calls)
	}
}

func TestAutopilotHoldStartsCircling(t *testing.T) {
	n, _, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})

	list := missionFour()
	list.CurrentSeq = 2
	n.Handle(WaypointsChanged{List: list})

	n.Handle(AutopilotState{Mode: autopilot.ModeHold})
	if n.State() != CirclingBack {
		t.Errorf("state = %s; want CIRCLING_BACK", n.State())
	}
}

func TestConeLostLimit(t *testing.T) {
	n, _, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})
	driveToCone(t, n, 2)

	for i := 0; i < 15; i++ {
		n.Handle(ConeLocations{})
	}
	if n.State() != DrivingToCone {
		t.Fatalf("state after 15 misses = %s; want DRIVING_TO_CONE", n.State())
	}
	n.Handle(ConeLocations{})
	if n.State() != CirclingBack {
		t.Errorf("state after 16 misses = %s; want CIRCLING_BACK", n.State())
	}
}

func TestSweepRecoversCone(t *testing.T) {
	n, _, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})
	driveToCone(t, n, 2)
	for i := 0; i < 16; i++ {
		n.Handle(ConeLocations{})
	}
	if n.State() != CirclingBack {
		t.Fatalf("state = %s; want CIRCLING_BACK", n.State())
	}

	// A qualifying detection during the sweep resumes the approach.
	n.Handle(ConeLocations{Cones: []msgs.ConePose{{Area: 450}}})
	if n.State() != DrivingToCone {
		t.Errorf("state = %s; want DRIVING_TO_CONE", n.State())
	}
}

func TestSweepExhaustedSkipsCone(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})
	driveToCone(t, n, 2)
	for i := 0; i < 16; i++ {
		n.Handle(ConeLocations{})
	}

	// Align with the first sweep target.
	n.Handle(RobotPose{Pose: poseWithYaw(n.targetHeading)})
	n.Handle(ConeLocations{})
	if n.State() != CirclingForward {
		t.Fatalf("state = %s; want CIRCLING_FORWARD", n.State())
	}

	// Align with the second; waypoints remain, so the cone is skipped.
	n.Handle(RobotPose{Pose: poseWithYaw(n.targetHeading)})
	n.Handle(ConeLocations{})
	if n.State() != FollowingWaypoints {
		t.Fatalf("state = %s; want FOLLOWING_WAYPOINTS", n.State())
	}
	joined := strings.Join(bridge.calls, " ")
	if !strings.Contains(joined, "current:3") {
		t.Errorf("skip should resume at waypoint 3: %v", bridge.calls)
	}
}

func TestSweepExhaustedAtLastConeFails(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	n.Handle(RobotPose{Pose: poseWithYaw(0)})
	driveToCone(t, n, 3)
	for i := 0; i < 16; i++ {
		n.Handle(ConeLocations{})
	}
	if n.State() != CirclingBack {
		t.Fatalf("state = %s; want CIRCLING_BACK", n.State())
	}

	n.Handle(RobotPose{Pose: poseWithYaw(n.targetHeading)})
	n.Handle(ConeLocations{})
	n.Handle(RobotPose{Pose: poseWithYaw(n.targetHeading)})
	n.Handle(ConeLocations{})

	if n.State() != Failed {
		t.Fatalf("state = %s; want FAILED", n.State())
	}
	if bridge.calls[len(bridge.calls)-1] != "mode:HOLD" {
		t.Errorf("failure should HOLD the autopilot: %v", bridge.calls)
	}
}

func TestResetFromAnyState(t *testing.T) {
	cal := config.Default().Servo()
	neutral := cal.Channels(0, 0)

	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	driveToCone(t, n, 2)

	n.Handle(ExecCommand{Command: msgs.CmdReset})
	if n.State() != WaitingForStart {
		t.Errorf("state = %s; want WAITING_FOR_START", n.State())
	}
	if bridge.lastRC() != neutral {
		t.Errorf("reset should command manual speed (0,0): %v", bridge.lastRC())
	}
	if n.coneWpIndex != -1 {
		t.Errorf("cone index should clear on reset")
	}
}

func TestConeCloseLatch(t *testing.T) {
	n, _, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	driveToCone(t, n, 2)

	// Huge area: the cone is inside the close distance.
	n.Handle(ConeLocations{Cones: []msgs.ConePose{{Area: 100000}}})
	if !n.coneIsClose {
		t.Fatalf("close flag should latch")
	}

	// The cone appearing far again must not clear the latch.
	n.Handle(ConeLocations{Cones: []msgs.ConePose{{Area: 400}}})
	if !n.coneIsClose {
		t.Errorf("close flag must stay latched within the episode")
	}
}

func TestLimboDiscardsEvents(t *testing.T) {
	n, _, _, sched := newTestNavigator(config.Default())
	sched.queued = true

	n.Handle(WaypointsChanged{List: missionFour()})
	n.Handle(ExecCommand{Command: msgs.CmdStart})
	if n.State() != Limbo {
		t.Fatalf("state during arming settle = %s; want LIMBO", n.State())
	}

	// Events arriving during the settle window are discarded.
	n.Handle(ConeLocations{Cones: []msgs.ConePose{{Area: 5000}}})
	if n.State() != Limbo {
		t.Fatalf("limbo must ignore events")
	}

	sched.drain()
	if n.State() != FollowingWaypoints {
		t.Errorf("state after settle = %s; want FOLLOWING_WAYPOINTS", n.State())
	}
}

func TestAlignedBackupEscape(t *testing.T) {
	cfg := config.Default()
	cfg.EscapeStrategy = control.EscapeAlignedBackup

	n, bridge, _, _ := newTestNavigator(cfg)
	startMission(t, n)
	n.Handle(MapWaypoints{List: msgs.WaypointList{Waypoints: []msgs.Waypoint{
		{XLat: 0, YLong: 0},
		{XLat: 10, YLong: 0},
		{XLat: 20, YLong: 0},
		{XLat: 20, YLong: 10},
	}}})
	driveToCone(t, n, 2)

	n.Handle(Touch{Pressed: true})
	if n.State() != EscapingCone {
		t.Fatalf("state = %s; want ESCAPING_CONE", n.State())
	}
	// Bearing from cone (20,0) to next (20,10) is +pi/2.
	if math.Abs(n.targetHeading-math.Pi/2) > 1e-9 {
		t.Errorf("target heading = %f; want pi/2", n.targetHeading)
	}

	// Misaligned pose keeps backing up.
	before := len(bridge.rc)
	n.Handle(RobotPose{Pose: poseWithYaw(math.Pi / 2 * -1)})
	if len(bridge.rc) == before {
		t.Fatalf("misaligned escape should command the servos")
	}

	// Aligned pose stops and resumes the mission.
	n.Handle(RobotPose{Pose: poseWithYaw(math.Pi / 2)})
	if n.State() != FollowingWaypoints {
		t.Errorf("state = %s; want FOLLOWING_WAYPOINTS", n.State())
	}
	joined := strings.Join(bridge.calls, " ")
	if !strings.Contains(joined, "current:3") {
		t.Errorf("escape should resume at waypoint 3: %v", bridge.calls)
	}
}

func TestTickPublishesState(t *testing.T) {
	n, _, sink, _ := newTestNavigator(config.Default())
	n.Tick()
	if len(sink.states) != 1 || sink.states[0] != "WAITING_FOR_START" {
		t.Fatalf("published states = %v", sink.states)
	}
	startMission(t, n)
	n.Tick()
	if sink.states[len(sink.states)-1] != "FOLLOWING_WAYPOINTS" {
		t.Errorf("published state = %s; want FOLLOWING_WAYPOINTS", sink.states[len(sink.states)-1])
	}
}

func TestAdjustWaypoints(t *testing.T) {
	n, _, sink, _ := newTestNavigator(config.Default())

	// Refused with no map waypoints.
	n.Handle(ExecCommand{Command: msgs.CmdAdjustWaypoints})
	if len(sink.adjusted) != 0 {
		t.Fatalf("adjust without map waypoints should publish nothing")
	}

	n.Handle(MapWaypoints{List: msgs.WaypointList{Waypoints: []msgs.Waypoint{
		{XLat: 5, YLong: 5, ZAlt: 0},
		{XLat: 8, YLong: 9, ZAlt: 1030},
	}}})
	n.Handle(ExecCommand{Command: msgs.CmdAdjustWaypoints})
	if len(sink.adjusted) != 1 {
		t.Fatalf("adjusted list not published")
	}
	got := sink.adjusted[0]
	if got[1].XLat != 3 || got[1].YLong != 4 || got[1].ZAlt != 1030 {
		t.Errorf("adjusted waypoint 1 = %+v; want {3 4 1030}", got[1])
	}
}

func TestKillSwitchBlocksStart(t *testing.T) {
	n, _, _, _ := newTestNavigator(config.Default())
	n.Handle(WaypointsChanged{List: missionFour()})
	n.Handle(KillSwitch{Enabled: false})
	n.Handle(ExecCommand{Command: msgs.CmdStart})
	if n.State() != WaitingForStart {
		t.Errorf("start with kill switch disabled should be refused")
	}

	n.Handle(KillSwitch{Enabled: true})
	n.Handle(ExecCommand{Command: msgs.CmdStart})
	if n.State() != FollowingWaypoints {
		t.Errorf("start should proceed once the kill switch is enabled")
	}
}

func TestTouchIgnoredOutsideDriving(t *testing.T) {
	n, bridge, _, _ := newTestNavigator(config.Default())
	startMission(t, n)
	before := len(bridge.calls)
	n.Handle(Touch{Pressed: true})
	if n.State() != FollowingWaypoints || len(bridge.calls) != before {
		t.Errorf("touch while following must be ignored")
	}
}
