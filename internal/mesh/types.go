// Package mesh implements Stage M: role-aware routing with Drone→Queen
// aggregation and Queen→satellite uplink escalation (§4.9). Mesh owns the
// node registry and the bounded (cap 200) message log — the only
// cross-thread shared structure in the system (§5); all mutation goes
// through Network's methods.
package mesh

import "time"

// Role is a node's position in the Queen/Drone topology.
type Role string

const (
	RoleQueen Role = "queen"
	RoleDrone Role = "drone"
)

// Location is a geographic point (§3 NodeIdentity.location).
type Location struct {
	Lat, Lon, Alt float64
}

// NodeIdentity is a node's stable registry entry (§3).
type NodeIdentity struct {
	NodeID       string
	Role         Role
	Location     Location
	QueenID      string // set for Drones
	HasSatellite bool
}

// NodeHealth tracks liveness for the Queen's heartbeat timeout logic (§4.9).
type NodeHealth struct {
	LastHeartbeat time.Time
	Dead          bool
}

// MessageKind enumerates MeshMessage.kind (§3).
type MessageKind string

const (
	KindAlert           MessageKind = "alert"
	KindHeartbeat       MessageKind = "heartbeat"
	KindSatelliteUplink MessageKind = "satellite_uplink"
	KindAggregatedAlert MessageKind = "aggregated_alert"
)

// Priority is the alert priority classified at node source (§4.9).
type Priority int

const (
	PriorityNone Priority = 0
	PriorityP3   Priority = 3
	PriorityP2   Priority = 2
	PriorityP1   Priority = 1
)

// Channel is the transmission channel an alert ultimately used (§3 Alert).
type Channel string

const (
	ChannelLoRaMesh    Channel = "lora_mesh"
	ChannelLoRaGateway Channel = "lora_gateway"
	ChannelSatellite   Channel = "satellite"
	ChannelCellular    Channel = "cellular"
)

// Alert is the compact, transmittable alert record (§4.8 Outputs).
type Alert struct {
	AlertID    string
	Priority   Priority
	NodeID     string
	Location   Location
	RiskScore  float64
	Confidence float64
	Witnesses  uint
	Channel    Channel
	Fallback   string // "lora_mesh" when satellite failed over for a P1
	Timestamp  time.Time
	DyingGasp  bool
	BlackBox   []float64 // 30s black-box history, only set when DyingGasp
	Metadata   map[string]string
}

// MeshMessage is the envelope carried over the wire (§3). Payload carries
// either an Alert or an AggregatedAlert, discriminated by Kind.
type MeshMessage struct {
	MessageID     string
	SourceID      string
	DestinationID string
	Kind          MessageKind
	Alert         *Alert
	Aggregated    *AggregatedAlert
	HopCount      int
	RelayPath     []string
	Timestamp     time.Time
}

// AggregatedAlert is the Queen-synthesized multi-Drone escalation (§4.9).
type AggregatedAlert struct {
	AlertID      string
	AvgRisk      float64
	MaxRisk      float64
	SourceDrones []string
	Escalated    bool
	Priority     Priority
	Channel      Channel
}

// DeathEvent records a node that stopped reporting (§3).
type DeathEvent struct {
	NodeID    string
	Location  Location
	Timestamp time.Time
}

// DeathVector is derived from sequential DeathEvents at a Queen (§4.9).
type DeathVector struct {
	DirectionDeg float64
	SpeedMPS     float64
	Confidence   float64
}

// BurntArea is a Known-Burnt-Area circle (§4.9).
type BurntArea struct {
	Center    Location
	RadiusM   float64
	BurntAt   time.Time
}

// FireSpreadPrediction is the simple fire-spread prior derived from a death
// vector and ambient wind (§4.9).
type FireSpreadPrediction struct {
	RateMPS      float64
	DirectionDeg float64
}
