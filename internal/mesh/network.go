package mesh

// Network is the per-node Mesh state: node registry and message log. It is
// the only cross-thread shared structure in the system (§5); all mutation
// goes through Network's methods, each holding the coarse lock only for a
// bounded critical section.

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const messageLogCap = 200

// Network owns the node registry, the bounded message log, and per-role
// aggregation/death-tracking state for a single node.
type Network struct {
	mu sync.Mutex

	self NodeIdentity

	nodes  map[string]NodeIdentity
	health map[string]NodeHealth

	log      []MeshMessage // ring, oldest-dropped, cap messageLogCap
	logHead  int
	logSize  int
	seen     map[string]struct{} // MessageID -> present, mirrors the log ring 1:1

	aggregator *Aggregator // nil for Drones
	deaths     []DeathEvent
	burntAreas []BurntArea

	heartbeatTimeout time.Duration
}

// NewNetwork creates a Network for self. aggregatorCfg is only meaningful
// when self.Role == RoleQueen.
func NewNetwork(self NodeIdentity, heartbeatTimeout time.Duration, aggregatorCfg AggregatorConfig) *Network {
	n := &Network{
		self: self, nodes: make(map[string]NodeIdentity), health: make(map[string]NodeHealth),
		log: make([]MeshMessage, messageLogCap), seen: make(map[string]struct{}, messageLogCap),
		heartbeatTimeout: heartbeatTimeout,
	}
	if self.Role == RoleQueen {
		n.aggregator = NewAggregator(aggregatorCfg)
	}
	return n
}

// Receive implements Inbox: a transport-verified MeshMessage is routed into
// the log and, for Queens, the aggregator.
func (n *Network) Receive(msg MeshMessage) { n.RouteMessage(msg) }

// RegisterNode adds or replaces a node in the registry.
func (n *Network) RegisterNode(id NodeIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[id.NodeID] = id
	n.health[id.NodeID] = NodeHealth{LastHeartbeat: time.Now()}
}

// UpdateNodeStatus records a heartbeat and clears any Dead marking.
func (n *Network) UpdateNodeStatus(nodeID string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.health[nodeID]
	h.LastHeartbeat = now
	h.Dead = false
	n.health[nodeID] = h
}

// SweepDeaths marks nodes Dead if no heartbeat arrived within the timeout,
// recording a DeathEvent on first transition into Dead. Returns the newly
// dead node ids. Queen-only in practice, but safe on any role.
func (n *Network) SweepDeaths(now time.Time) []DeathEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	var newDeaths []DeathEvent
	for id, h := range n.health {
		if h.Dead || now.Sub(h.LastHeartbeat) < n.heartbeatTimeout {
			continue
		}
		h.Dead = true
		n.health[id] = h
		if node, ok := n.nodes[id]; ok {
			evt := DeathEvent{NodeID: id, Location: node.Location, Timestamp: now}
			n.deaths = append(n.deaths, evt)
			newDeaths = append(newDeaths, evt)
		}
	}
	return newDeaths
}

// DeathVector returns the Queen's current death-vector estimate.
func (n *Network) DeathVector() (DeathVector, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return DeathVectorOf(n.deaths)
}

// RouteMessage appends msg to the bounded message log (oldest-dropped) and,
// if self is a Queen and msg carries a Drone alert, records it with the
// aggregator (§4.9). Idempotent per MessageID (§5, §8): replaying a message
// already present in the log is a no-op, so a retried transmission can
// never double-count against the aggregator's escalation quorum.
func (n *Network) RouteMessage(msg MeshMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if msg.MessageID != "" {
		if _, dup := n.seen[msg.MessageID]; dup {
			return
		}
	}

	pos := (n.logHead + n.logSize) % messageLogCap
	if n.logSize < messageLogCap {
		n.logSize++
	} else {
		if evicted := n.log[pos].MessageID; evicted != "" {
			delete(n.seen, evicted)
		}
		n.logHead = (n.logHead + 1) % messageLogCap
	}
	n.log[pos] = msg
	if msg.MessageID != "" {
		n.seen[msg.MessageID] = struct{}{}
	}

	if n.aggregator != nil && msg.Kind == KindAlert && msg.Alert != nil {
		n.aggregator.Record(msg.SourceID, msg.Alert.RiskScore, msg.Timestamp)
	}
}

// RouteAlert packages alert into an outgoing MeshMessage, computing the
// Drone routing decision via router.Route when self is a Drone (§4.9), and
// records it locally through RouteMessage the same way an accepted inbound
// message is — this is the live-path wiring of Route's hop_count/relay_path
// output into the MeshMessage the invariant in §8 is stated about.
// RouteAlert itself neither signs nor transmits the message; it returns it
// to the caller. candidates/lookup are only
// consulted for Drones; pass nil for a Queen or when no relay candidates
// are known.
func (n *Network) RouteAlert(alert Alert, router *DroneRouter, candidates []string, lookup NeighborLookup) MeshMessage {
	n.mu.Lock()
	self := n.self
	queen, queenKnown := n.nodes[self.QueenID]
	n.mu.Unlock()

	msg := MeshMessage{
		MessageID: uuid.NewString(), SourceID: self.NodeID, DestinationID: self.QueenID,
		Kind: KindAlert, Alert: &alert, Timestamp: alert.Timestamp,
	}

	if self.Role == RoleDrone && router != nil {
		if !queenKnown {
			queen = NodeIdentity{NodeID: self.QueenID}
		}
		msg.HopCount, msg.RelayPath = router.Route(self, queen, candidates, lookup)
	}

	n.RouteMessage(msg)
	return msg
}

// EvaluateAggregation is a convenience wrapper over Aggregator.Evaluate for
// Queens; returns (nil, false) for Drones.
func (n *Network) EvaluateAggregation(now time.Time, alertID string) (*AggregatedAlert, bool) {
	n.mu.Lock()
	agg := n.aggregator
	n.mu.Unlock()
	if agg == nil {
		return nil, false
	}
	return agg.Evaluate(now, alertID)
}

// MessageLog returns a copy of the log in chronological order.
func (n *Network) MessageLog() []MeshMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]MeshMessage, n.logSize)
	for i := 0; i < n.logSize; i++ {
		out[i] = n.log[(n.logHead+i)%messageLogCap]
	}
	return out
}

// AddBurntArea records a Known-Burnt-Area circle (§4.9).
func (n *Network) AddBurntArea(a BurntArea) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.burntAreas = append(n.burntAreas, a)
}

// IsBurnt reports whether loc is within a still-valid Known-Burnt-Area.
func (n *Network) IsBurnt(loc Location, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return InBurntArea(loc, n.burntAreas, now)
}
