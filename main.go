package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jasonlvhit/gocron"

	"github.com/robo-magellan/cone-nav/api"
	"github.com/robo-magellan/cone-nav/autopilot"
	"github.com/robo-magellan/cone-nav/config"
	"github.com/robo-magellan/cone-nav/msgs"
	"github.com/robo-magellan/cone-nav/nav"
	"github.com/robo-magellan/cone-nav/rosbridge"
	"github.com/robo-magellan/cone-nav/xmpp"

	_ "net/http/pprof"
)

// Topics the navigator exchanges with the rest of the system.
const (
	topicWaypoints    = "/mavros/mission/waypoints"
	topicMapWaypoints = "/waypoints/map"
	topicPose         = "/mavros/local_position/pose"
	topicCones        = "/cone_finder/locations"
	topicTouch        = "/touch"
	topicKillSwitch   = "/kill_sw_enabled"
	topicExec         = "/exec_cmd"
	topicState        = "/mavros/state"

	topicNavState = "/navigator/state"
	topicAdjusted = "/navigator/adjusted_waypoints"
)

// statusPublisher forwards navigator status onto latched topics so a
// late-joining monitor still sees the current state.
type statusPublisher struct {
	client *rosbridge.Client
}

func (p statusPublisher) PublishState(name string) {
	p.client.Publish(topicNavState, msgs.String{Data: name})
}

func (p statusPublisher) PublishAdjusted(wps []msgs.Waypoint) {
	p.client.Publish(topicAdjusted, msgs.WaypointList{Waypoints: wps})
}

func subscribe(client *rosbridge.Client, loop *nav.Loop) error {
	subs := []struct {
		topic   string
		msgType string
		decode  func(json.RawMessage) (nav.Event, error)
	}{
		{topicWaypoints, "mavros_msgs/WaypointList", func(raw json.RawMessage) (nav.Event, error) {
			var list msgs.WaypointList
			err := json.Unmarshal(raw, &list)
			return nav.WaypointsChanged{List: list}, err
		}},
		{topicMapWaypoints, "mavros_msgs/WaypointList", func(raw json.RawMessage) (nav.Event, error) {
			var list msgs.WaypointList
			err := json.Unmarshal(raw, &list)
			return nav.MapWaypoints{List: list}, err
		}},
		{topicPose, "geometry_msgs/PoseStamped", func(raw json.RawMessage) (nav.Event, error) {
			var pose msgs.PoseStamped
			err := json.Unmarshal(raw, &pose)
			return nav.RobotPose{Pose: pose.Pose}, err
		}},
		{topicCones, "cone_finder/location_msgs", func(raw json.RawMessage) (nav.Event, error) {
			var loc msgs.ConeLocations
			err := json.Unmarshal(raw, &loc)
			return nav.ConeLocations{Cones: loc.Poses}, err
		}},
		{topicTouch, "std_msgs/Bool", func(raw json.RawMessage) (nav.Event, error) {
			var b msgs.Bool
			err := json.Unmarshal(raw, &b)
			return nav.Touch{Pressed: b.Data}, err
		}},
		{topicKillSwitch, "std_msgs/Bool", func(raw json.RawMessage) (nav.Event, error) {
			var b msgs.Bool
			err := json.Unmarshal(raw, &b)
			return nav.KillSwitch{Enabled: b.Data}, err
		}},
		{topicExec, "std_msgs/String", func(raw json.RawMessage) (nav.Event, error) {
			var s msgs.String
			err := json.Unmarshal(raw, &s)
			return nav.ExecCommand{Command: s.Data}, err
		}},
		{topicState, "mavros_msgs/State", func(raw json.RawMessage) (nav.Event, error) {
			var st msgs.AutopilotState
			err := json.Unmarshal(raw, &st)
			return nav.AutopilotState{Mode: st.Mode, Armed: st.Armed}, err
		}},
	}

	for _, sub := range subs {
		decode := sub.decode
		topic := sub.topic
		err := client.Subscribe(topic, sub.msgType, func(raw json.RawMessage) {
			ev, err := decode(raw)
			if err != nil {
				log.Printf("bad message on %s: %v", topic, err)
				return
			}
			loop.Post(ev)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// pwmTest sweeps the throttle and steering channels through the servo
// mapping for bench calibration, then returns.
func pwmTest(cfg config.Config, bridge autopilot.Bridge) {
	servo := cfg.Servo()

	fmt.Println("PWM sweep: throttle")
	for speed := -1.0; speed <= 1.0; speed += 0.25 {
		channels := servo.Channels(speed, 0)
		fmt.Printf("speed %+.2f -> throttle %d\n", speed, channels[2])
		bridge.OverrideRC(channels)
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("PWM sweep: steering")
	for turning := -1.0; turning <= 1.0; turning += 0.25 {
		channels := servo.Channels(0.25, turning)
		fmt.Printf("turning %+.2f -> steering %d\n", turning, channels[0])
		bridge.OverrideRC(channels)
		time.Sleep(500 * time.Millisecond)
	}

	bridge.OverrideRC(servo.Channels(0, 0))
}

func main() {

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Connect rosbridge", cfg.BridgeURL)
	client, err := rosbridge.Dial(cfg.BridgeURL)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	bridge, err := autopilot.NewMavros(client)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.PwmTest {
		if err := bridge.SetMode(autopilot.ModeManual); err != nil {
			log.Fatal(err)
		}
		pwmTest(cfg, bridge)
		return
	}

	if err := client.Advertise(topicNavState, "std_msgs/String", true); err != nil {
		log.Fatal(err)
	}
	if err := client.Advertise(topicAdjusted, "mavros_msgs/WaypointList", true); err != nil {
		log.Fatal(err)
	}

	x := xmpp.Xmpp{Config: xmpp.Config{Host: cfg.XmppHost, Jid: cfg.XmppJid, Password: cfg.XmppPassword, To: cfg.XmppTo}}

	navigator := nav.New(cfg, bridge, statusPublisher{client: client}, x, nil)
	loop := nav.NewLoop(navigator, cfg.Rate)

	if err := subscribe(client, loop); err != nil {
		log.Fatal(err)
	}

	s := gocron.NewScheduler()
	job := s.Every(15).Seconds()
	job.Do(func() {
		log.Println("mission:", loop.Status())
	})
	go s.Start()

	fmt.Println("Start server", cfg.Listen)
	router := api.InitServer(cfg.Cpuprofile, loop)
	go func() {
		log.Fatal(http.ListenAndServe(cfg.Listen, handlers.LoggingHandler(os.Stdout, router)))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	loop.Run(ctx)
}
