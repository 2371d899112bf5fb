package store

import "time"

// Node is one persisted radio, created on first packet and never
// deleted; the ignore flag hides it from operator-facing views.
type Node struct {
	ID              string     `json:"node_id"`
	Num             *int64     `json:"node_num,omitempty"`
	ShortName       *string    `json:"short_name,omitempty"`
	LongName        *string    `json:"long_name,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	Altitude        *float64   `json:"altitude,omitempty"`
	LastSeen        time.Time  `json:"last_seen_utc"`
	FirstSeen       time.Time  `json:"first_seen_utc"`
	TotalPackets    int64      `json:"total_packets_received"`
	HardwareModel   *string    `json:"hardware_model,omitempty"`
	FirmwareVersion *string    `json:"firmware_version,omitempty"`
	IsMQTT          bool       `json:"is_mqtt"`
	BatteryLevel    *int64     `json:"battery_level,omitempty"`
	Voltage         *float64   `json:"voltage,omitempty"`
	IsCharging      *bool      `json:"is_charging,omitempty"`
	IsPowered       *bool      `json:"is_powered,omitempty"`
	LastBatteryAt   *time.Time `json:"last_battery_update_utc,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	IsIgnored       bool       `json:"is_ignored"`
	IsAirplane      bool       `json:"is_airplane"`
	LastNameUpdate  *time.Time `json:"last_name_update_utc,omitempty"`
}

// NodeUpdate carries the fields extracted from one packet; nil means
// the packet did not supply that attribute.
type NodeUpdate struct {
	ID              string
	Num             *int64
	ShortName       *string
	LongName        *string
	Latitude        *float64
	Longitude       *float64
	Altitude        *float64
	HardwareModel   *string
	FirmwareVersion *string
	ViaMQTT         *bool
	BatteryLevel    *int64
	Voltage         *float64
	IsCharging      *bool
	IsPowered       *bool
}

// PacketRecord is one row of per-node bounded packet history.
type PacketRecord struct {
	ID            int64     `json:"id"`
	NodeID        string    `json:"node_id"`
	ReceivedAt    time.Time `json:"received_at_utc"`
	Type          string    `json:"packet_type"`
	ChannelIndex  *int64    `json:"channel_index,omitempty"`
	HopStart      *int64    `json:"hop_start,omitempty"`
	HopLimit      *int64    `json:"hop_limit,omitempty"`
	HopsAway      *int64    `json:"hops_away,omitempty"`
	ViaMQTT       bool      `json:"via_mqtt"`
	RelayNodeID   *string   `json:"relay_node_id,omitempty"`
	RelayNodeName *string   `json:"relay_node_name,omitempty"`
	RxSNR         *float64  `json:"rx_snr,omitempty"`
	RxRSSI        *int64    `json:"rx_rssi,omitempty"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	Altitude      *float64  `json:"altitude,omitempty"`
	BatteryLevel  *int64    `json:"battery_level,omitempty"`
	Voltage       *float64  `json:"voltage,omitempty"`
	IsCharging    *bool     `json:"is_charging,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	Pressure      *float64  `json:"pressure,omitempty"`
	MessageText   *string   `json:"message_text,omitempty"`
	RawPacket     *string   `json:"raw_packet,omitempty"`
}

// Edge is one directed topology link with running aggregates.
type Edge struct {
	ID           int64     `json:"id"`
	SourceID     string    `json:"source_node_id"`
	NeighborID   string    `json:"neighbor_node_id"`
	FirstHeard   time.Time `json:"first_heard_utc"`
	LastHeard    time.Time `json:"last_heard_utc"`
	TotalPackets int64     `json:"total_packets"`
	AvgSNR       *float64  `json:"avg_snr,omitempty"`
	AvgRSSI      *float64  `json:"avg_rssi,omitempty"`
	MinSNR       *float64  `json:"min_snr,omitempty"`
	MaxSNR       *float64  `json:"max_snr,omitempty"`
	MinRSSI      *float64  `json:"min_rssi,omitempty"`
	MaxRSSI      *float64  `json:"max_rssi,omitempty"`
	Quality      *float64  `json:"link_quality_score,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastHopCount *int64    `json:"last_hop_count,omitempty"`
}

// Traceroute is one discovered route; Route holds full node identities
// in order, RouteNames the matching display names for rendering.
type Traceroute struct {
	ID            int64     `json:"id"`
	FromID        string    `json:"from_node_id"`
	ToID          *string   `json:"to_node_id,omitempty"`
	Route         []string  `json:"route"`
	RouteNames    []string  `json:"route_names,omitempty"`
	HopCount      int64     `json:"hop_count"`
	ReceivedAt    time.Time `json:"received_at_utc"`
	SNRTowards    []float64 `json:"snr_data,omitempty"`
	PacketID      *int64    `json:"packet_id,omitempty"`
	FromLongName  *string   `json:"from_long_name,omitempty"`
	FromShortName *string   `json:"from_short_name,omitempty"`
	ToLongName    *string   `json:"to_long_name,omitempty"`
	ToShortName   *string   `json:"to_short_name,omitempty"`
}

// AttemptKind selects which probe attempt table an operation targets.
type AttemptKind string

const (
	AttemptTraceroute AttemptKind = "traceroute"
	AttemptTelemetry  AttemptKind = "telemetry"
)

// AttemptStatus is the probe lifecycle state.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "pending"
	StatusCompleted AttemptStatus = "completed"
	StatusTimeout   AttemptStatus = "timeout"
)

// Attempt is one scheduler-issued probe and its lifecycle row. The
// trailing field groups are populated per kind: traceroute attempts
// join their resulting route, telemetry attempts capture the signal
// readings of the response that closed them.
type Attempt struct {
	ID          int64         `json:"id"`
	TargetID    string        `json:"to_node_id"`
	TargetName  *string       `json:"to_node_name,omitempty"`
	RequestedAt time.Time     `json:"requested_at_utc"`
	Status      AttemptStatus `json:"status"`
	CompletedAt *time.Time    `json:"completed_at_utc,omitempty"`

	TracerouteID *int64   `json:"traceroute_id,omitempty"`
	HopCount     *int64   `json:"hop_count,omitempty"`
	Route        []string `json:"route,omitempty"`

	RxSNR         *float64 `json:"rx_snr,omitempty"`
	RxRSSI        *int64   `json:"rx_rssi,omitempty"`
	RelayNodeID   *string  `json:"relay_node_id,omitempty"`
	RelayNodeName *string  `json:"relay_node_name,omitempty"`
	HopsAway      *int64   `json:"hops_away,omitempty"`
}

// TelemetryCompletion carries the response fields stored on a telemetry
// attempt row at completion.
type TelemetryCompletion struct {
	RxSNR         *float64
	RxRSSI        *int64
	RelayNodeID   *string
	RelayNodeName *string
	HopsAway      *int64
}

// ProbeCandidate is one node selected by a scheduler candidate query.
type ProbeCandidate struct {
	NodeID    string     `json:"node_id"`
	Num       int64      `json:"node_num"`
	LongName  *string    `json:"long_name,omitempty"`
	ShortName *string    `json:"short_name,omitempty"`
	IsMQTT    bool       `json:"is_mqtt"`
	LastSeen  time.Time  `json:"last_seen_utc"`
	LastProbe *time.Time `json:"last_probe_utc,omitempty"`
}

// NetworkStats is the aggregate statistics rollup.
type NetworkStats struct {
	TotalNodes     int64   `json:"total_nodes"`
	ActiveNodes    int64   `json:"active_nodes"`
	TotalPackets   int64   `json:"total_packets"`
	ActiveLinks    int64   `json:"active_links"`
	AvgLinkQuality float64 `json:"avg_link_quality"`
}

// AttemptStats summarizes one attempt table: all-time counts by status
// plus a 24 h success-rate window. SNR/RSSI averages apply to the
// telemetry kind only.
type AttemptStats struct {
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Timeout   int64 `json:"timeout"`

	RecentTotal       int64   `json:"recent_total"`
	RecentCompleted   int64   `json:"recent_completed"`
	RecentTimeout     int64   `json:"recent_timeout"`
	RecentSuccessRate float64 `json:"recent_success_rate"`

	AvgSNR  *float64 `json:"avg_snr,omitempty"`
	AvgRSSI *float64 `json:"avg_rssi,omitempty"`
}
