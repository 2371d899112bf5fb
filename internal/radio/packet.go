// Package radio defines the boundary to the locally attached mesh
// radio: the decoded packet record the driver delivers, the interface
// the core sends probes through, and the process-wide slot holding the
// currently connected interface.
package radio

import "github.com/meshwatchio/meshwatch/internal/meshid"

// Port tags the payload variant carried by a packet.
type Port string

const (
	PortText       Port = "TEXT_MESSAGE_APP"
	PortPosition   Port = "POSITION_APP"
	PortNodeInfo   Port = "NODEINFO_APP"
	PortTelemetry  Port = "TELEMETRY_APP"
	PortRouting    Port = "ROUTING_APP"
	PortTraceroute Port = "TRACEROUTE_APP"
)

// DefaultTrackedPorts is the set of ports persisted to packet history
// when no explicit set is configured.
func DefaultTrackedPorts() map[Port]bool {
	return map[Port]bool{
		PortText:       true,
		PortPosition:   true,
		PortNodeInfo:   true,
		PortTelemetry:  true,
		PortRouting:    true,
		PortTraceroute: true,
	}
}

// Packet is one decoded frame delivered by the radio driver. Optional
// wire fields are pointers; missing nested records simply yield
// omitted attributes.
type Packet struct {
	ID       uint32   `json:"id"`
	From     uint32   `json:"from"`
	To       uint32   `json:"to"`
	FromID   string   `json:"fromId"`
	ToID     string   `json:"toId,omitempty"`
	Channel  int      `json:"channel"`
	HopStart *int     `json:"hopStart,omitempty"`
	HopLimit *int     `json:"hopLimit,omitempty"`
	RxSNR    *float64 `json:"rxSnr,omitempty"`
	RxRSSI   *int     `json:"rxRssi,omitempty"`
	ViaMQTT  bool     `json:"viaMqtt,omitempty"`

	// RelayNode carries only the low 8 bits of the relaying node's
	// number; resolution back to a full identity is heuristic.
	RelayNode *uint8 `json:"relayNode,omitempty"`

	Decoded *Decoded `json:"decoded,omitempty"`
}

// Decoded is the port-selected payload union.
type Decoded struct {
	Port       Port            `json:"portnum"`
	Text       string          `json:"text,omitempty"`
	Position   *Position       `json:"position,omitempty"`
	User       *User           `json:"user,omitempty"`
	Telemetry  *Telemetry      `json:"telemetry,omitempty"`
	Traceroute *RouteDiscovery `json:"traceroute,omitempty"`
}

// Position carries either integer-scaled (1e-7 degree) or float
// coordinates depending on firmware; Degrees normalizes both.
type Position struct {
	LatitudeI  *int32   `json:"latitudeI,omitempty"`
	LongitudeI *int32   `json:"longitudeI,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Altitude   *float64 `json:"altitude,omitempty"`
}

// Degrees returns the position in decimal degrees, preferring the
// integer-scaled fields when both forms are present.
func (p *Position) Degrees() (lat, lon float64, ok bool) {
	if p == nil {
		return 0, 0, false
	}
	switch {
	case p.LatitudeI != nil && p.LongitudeI != nil:
		return float64(*p.LatitudeI) / 1e7, float64(*p.LongitudeI) / 1e7, true
	case p.Latitude != nil && p.Longitude != nil:
		return *p.Latitude, *p.Longitude, true
	}
	return 0, 0, false
}

// User is the nodeinfo payload.
type User struct {
	ID        string `json:"id,omitempty"`
	ShortName string `json:"shortName,omitempty"`
	LongName  string `json:"longName,omitempty"`
	HwModel   string `json:"hwModel,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Telemetry is the telemetry payload: device and/or environment metrics.
type Telemetry struct {
	DeviceMetrics      *DeviceMetrics      `json:"deviceMetrics,omitempty"`
	EnvironmentMetrics *EnvironmentMetrics `json:"environmentMetrics,omitempty"`
}

type DeviceMetrics struct {
	BatteryLevel *int     `json:"batteryLevel,omitempty"`
	Voltage      *float64 `json:"voltage,omitempty"`
	AirUtilTx    *float64 `json:"airUtilTx,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

type EnvironmentMetrics struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	RelativeHumidity   *float64 `json:"relativeHumidity,omitempty"`
	BarometricPressure *float64 `json:"barometricPressure,omitempty"`
}

// RouteDiscovery is the traceroute payload: the ordered node numbers of
// the discovered route and the SNR observed toward each hop.
type RouteDiscovery struct {
	Route      []uint32  `json:"route,omitempty"`
	SNRTowards []float64 `json:"snrTowards,omitempty"`
}

// HopsAway derives hopStart - hopLimit; 0 means the packet was received
// directly from its source.
func (p *Packet) HopsAway() (int, bool) {
	if p.HopStart == nil || p.HopLimit == nil {
		return 0, false
	}
	return *p.HopStart - *p.HopLimit, true
}

// SourceID returns the canonical source identity, deriving it from the
// numeric field when the driver omitted the string form.
func (p *Packet) SourceID() string {
	if p.FromID != "" {
		return p.FromID
	}
	if p.From != 0 {
		return meshid.FromNum(p.From)
	}
	return ""
}

// PortOf returns the payload port tag, or "" for undecoded packets.
func (p *Packet) PortOf() Port {
	if p.Decoded == nil {
		return ""
	}
	return p.Decoded.Port
}
