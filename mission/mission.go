package mission

import (
	"errors"

	"github.com/robo-magellan/cone-nav/msgs"
)

// Waypoint altitudes on a cone mission carry four decimal digits NXYY
// instead of a real altitude:
//
//	N  0 plain waypoint, 1 cone waypoint, 2 final cone waypoint
//	X  nominal cruise-speed factor in tenths, 0 meaning 100%
//	YY minimum speed toward the cone as a percent of nominal
type Meta struct {
	IsCone             bool
	IsLastCone         bool
	CruiseFactor       float64
	ConeMinSpeedFactor float64
}

// DecodeAltitude unpacks the NXYY encoding.
func DecodeAltitude(z float64) Meta {
	n := int(z)
	m := Meta{
		IsCone:             n >= 1000,
		IsLastCone:         n >= 2000,
		ConeMinSpeedFactor: float64(n%100) * 0.01,
	}
	digit := (n / 100) % 10
	if digit == 0 {
		m.CruiseFactor = 1.0
	} else {
		m.CruiseFactor = float64(digit) * 0.1
	}
	return m
}

// EncodeAltitude is the inverse of DecodeAltitude for valid triples.
// The capture tool writes waypoints with it.
func EncodeAltitude(m Meta) float64 {
	n := 0
	if m.IsLastCone {
		n = 2000
	} else if m.IsCone {
		n = 1000
	}
	digit := int(m.CruiseFactor*10.0+0.5) % 10
	n += digit * 100
	n += int(m.ConeMinSpeedFactor*100.0 + 0.5)
	return float64(n)
}

// Mission is the waypoint list as last reported by the autopilot.
// CurrentSeq is authoritative on the autopilot side; the navigator
// only requests changes to it through the bridge.
type Mission struct {
	Waypoints  []msgs.Waypoint
	CurrentSeq int
}

func (m *Mission) Len() int {
	return len(m.Waypoints)
}

func (m *Mission) LastIndex() int {
	return len(m.Waypoints) - 1
}

func (m *Mission) Meta(i int) Meta {
	if i < 0 || i >= len(m.Waypoints) {
		return Meta{CruiseFactor: 1.0}
	}
	return DecodeAltitude(m.Waypoints[i].ZAlt)
}

// CruiseSpeed is the cruise speed the autopilot should hold while
// navigating toward waypoint i.
func (m *Mission) CruiseSpeed(i int, normalSpeed float64) float64 {
	return normalSpeed * m.Meta(i).CruiseFactor
}

var ErrNoWaypoints = errors.New("no waypoints to adjust")

// Adjust rewrites a map-frame waypoint list so every point is relative
// to waypoint 0. Z is copied unchanged since it carries the metadata
// encoding, not altitude. There is no rotational correction.
func Adjust(wps []msgs.Waypoint) ([]msgs.Waypoint, error) {
	if len(wps) == 0 {
		return nil, ErrNoWaypoints
	}
	origin := wps[0]
	out := make([]msgs.Waypoint, len(wps))
	for i, wp := range wps {
		out[i] = msgs.Waypoint{
			XLat:  wp.XLat - origin.XLat,
			YLong: wp.YLong - origin.YLong,
			ZAlt:  wp.ZAlt,
		}
	}
	return out, nil
}
