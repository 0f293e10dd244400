package autopilot

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robo-magellan/cone-nav/msgs"
	"github.com/robo-magellan/cone-nav/rosbridge"
)

// mavros topic and service names.
const (
	TopicOverride = "/mavros/rc/override"
	TopicSetpoint = "/mavros/setpoint_velocity/cmd_vel"

	svcSetMode    = "/mavros/set_mode"
	svcArming     = "/mavros/cmd/arming"
	svcParamSet   = "/mavros/param/set"
	svcSetCurrent = "/mavros/mission/set_current"
	svcPush       = "/mavros/mission/push"
	svcPull       = "/mavros/mission/pull"
	svcClear      = "/mavros/mission/clear"
)

// settleDelay is how long the autopilot needs after arming, waypoint
// reindexing and parameter writes before it will accept the next
// command without a busy error.
const settleDelay = 200 * time.Millisecond

// Mavros is the rosbridge-backed Bridge implementation.
type Mavros struct {
	client *rosbridge.Client
}

func NewMavros(client *rosbridge.Client) (*Mavros, error) {
	if err := client.Advertise(TopicOverride, "mavros_msgs/OverrideRCIn", false); err != nil {
		return nil, err
	}
	if err := client.Advertise(TopicSetpoint, "geometry_msgs/TwistStamped", false); err != nil {
		return nil, err
	}
	return &Mavros{client: client}, nil
}

type setModeRequest struct {
	BaseMode   int    `json:"base_mode"`
	CustomMode string `json:"custom_mode"`
}

func (m *Mavros) SetMode(mode string) error {
	log.WithField("mode", mode).Info("autopilot: set mode")
	return m.client.CallService(svcSetMode, setModeRequest{CustomMode: mode}, nil)
}

type commandBoolRequest struct {
	Value bool `json:"value"`
}

func (m *Mavros) Arm(arm bool) error {
	log.WithField("arm", arm).Info("autopilot: arming")
	err := m.client.CallService(svcArming, commandBoolRequest{Value: arm}, nil)
	time.Sleep(settleDelay)
	return err
}

type paramValue struct {
	Integer int64   `json:"integer"`
	Real    float64 `json:"real"`
}

type paramSetRequest struct {
	ParamID string     `json:"param_id"`
	Value   paramValue `json:"value"`
}

func (m *Mavros) SetParam(name string, value Value) error {
	req := paramSetRequest{ParamID: name}
	if value.IsInt() {
		req.Value.Integer = value.Integer
	} else {
		req.Value.Real = value.Real
	}
	log.WithFields(log.Fields{"param": name, "value": req.Value}).Info("autopilot: set param")
	err := m.client.CallService(svcParamSet, req, nil)
	time.Sleep(settleDelay)
	return err
}

type setCurrentRequest struct {
	WpSeq int `json:"wp_seq"`
}

func (m *Mavros) SetCurrentWaypoint(seq int) error {
	log.WithField("seq", seq).Info("autopilot: set current waypoint")
	err := m.client.CallService(svcSetCurrent, setCurrentRequest{WpSeq: seq}, nil)
	time.Sleep(settleDelay)
	return err
}

func (m *Mavros) OverrideRC(channels [8]uint16) error {
	return m.client.Publish(TopicOverride, msgs.OverrideRC{Channels: channels})
}

func (m *Mavros) PublishVelocity(linearX, angularZ float64) error {
	msg := msgs.TwistStamped{}
	msg.Twist.Linear.X = linearX
	msg.Twist.Angular.Z = angularZ
	return m.client.Publish(TopicSetpoint, msg)
}

type waypointPushRequest struct {
	StartIndex int             `json:"start_index"`
	Waypoints  []msgs.Waypoint `json:"waypoints"`
}

func (m *Mavros) PushWaypoints(wps []msgs.Waypoint) error {
	log.WithField("count", len(wps)).Info("autopilot: push waypoints")
	return m.client.CallService(svcPush, waypointPushRequest{Waypoints: wps}, nil)
}

type waypointPullResponse struct {
	WpReceived int `json:"wp_received"`
}

func (m *Mavros) PullWaypoints() (int, error) {
	var resp waypointPullResponse
	if err := m.client.CallService(svcPull, nil, &resp); err != nil {
		return 0, err
	}
	log.WithField("count", resp.WpReceived).Info("autopilot: pulled waypoints")
	return resp.WpReceived, nil
}

func (m *Mavros) ClearWaypoints() error {
	log.Info("autopilot: clear waypoints")
	return m.client.CallService(svcClear, nil, nil)
}
