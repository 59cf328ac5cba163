// Package operator — server.go
//
// Unix domain socket server for emberwatch operator overrides.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/emberwatch/operator.sock (configurable).
// Permissions: 0600, owned by root. Only root can connect.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"reset","node_id":"drone-07"}
//	  → Resets the registry's trauma_local for the node to zero, sets its
//	    tier to green and clears any tier pin. The next tick's registry
//	    update overwrites trauma_local again.
//	  → Response: {"ok":true,"node_id":"drone-07","prev_tier":"orange"}
//
//	{"cmd":"pin","node_id":"drone-07","tier":"red"}
//	  → Pins the tier the registry reports for the node; per-tick registry
//	    updates leave that tier unchanged until unpinned. The Decision
//	    classifier itself is not affected.
//	  → Response: {"ok":true,"node_id":"drone-07","pinned_tier":"red"}
//
//	{"cmd":"unpin","node_id":"drone-07"}
//	  → Removes the pin, resuming normal classification.
//	  → Response: {"ok":true,"node_id":"drone-07"}
//
//	{"cmd":"status","node_id":"drone-07"}
//	  → Returns the current tier, trauma_local, and pin status.
//	  → Response: {"ok":true,"node_id":"drone-07","tier":"yellow","trauma_local":0.12,"pinned":false}
//
//	{"cmd":"list"}
//	  → Returns all tracked nodes with their current tier and trauma_local.
//	  → Response: {"ok":true,"nodes":[{"node_id":"drone-07","tier":"yellow","pinned":false},...]}
//
// Security:
//   - Socket is created with 0600 permissions; only root can connect.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
//   - reset, pin and unpin are logged through the server's zap logger;
//     status and list are not logged. Nothing is written to the audit ledger.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emberwatch/emberwatch/internal/decision"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// NodeRegistry is the interface the operator server uses to read and
// mutate per-node decision state. Implemented by the agent's node state map.
type NodeRegistry interface {
	// GetTier returns the current tier for a node, or (decision.TierGreen,
	// false) if the node is not tracked.
	GetTier(nodeID string) (decision.Tier, bool)

	// ResetNode resets a node's tier to Green and zeroes trauma_local.
	// Returns the previous tier.
	ResetNode(nodeID string) decision.Tier

	// PinTier pins a node to a specific tier, preventing escalation/decay.
	PinTier(nodeID string, tier decision.Tier)

	// UnpinTier removes the pin on a node.
	UnpinTier(nodeID string)

	// IsPinned returns true if the node has an active pin.
	IsPinned(nodeID string) bool

	// TraumaLocal returns the current trauma_local accumulator for a node.
	TraumaLocal(nodeID string) float64

	// ListAll returns all tracked nodes with their current state.
	ListAll() []NodeStatus
}

// NodeStatus is a snapshot of a single node's decision state.
type NodeStatus struct {
	NodeID      string        `json:"node_id"`
	Tier        decision.Tier `json:"tier"`
	Pinned      bool          `json:"pinned"`
	TraumaLocal float64       `json:"trauma_local"`
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd    string `json:"cmd"`               // reset | pin | unpin | status | list
	NodeID string `json:"node_id,omitempty"` // target node
	Tier   string `json:"tier,omitempty"`    // target tier for pin command
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	NodeID      string       `json:"node_id,omitempty"`
	Tier        string       `json:"tier,omitempty"`
	PrevTier    string       `json:"prev_tier,omitempty"`
	PinnedTier  string       `json:"pinned_tier,omitempty"`
	Pinned      bool         `json:"pinned,omitempty"`
	TraumaLocal float64      `json:"trauma_local,omitempty"`
	Nodes       []NodeStatus `json:"nodes,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	registry   NodeRegistry
	log        *zap.Logger
	sem        chan struct{} // Semaphore: max concurrent connections.
}

// NewServer creates an operator Server.
func NewServer(socketPath string, registry NodeRegistry, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		registry:   registry,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server.
// Removes any stale socket file before binding.
// Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll("/run/emberwatch", 0o700); err != nil {
		return fmt.Errorf("operator: mkdir /run/emberwatch: %w", err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

// handleConn handles a single operator connection.
// Reads one JSON request, executes the command, writes one JSON response.
func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "reset":
		return s.cmdReset(req)
	case "pin":
		return s.cmdPin(req)
	case "unpin":
		return s.cmdUnpin(req)
	case "status":
		return s.cmdStatus(req)
	case "list":
		return s.cmdList()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdReset(req Request) Response {
	if req.NodeID == "" {
		return Response{OK: false, Error: "node_id required for reset"}
	}
	prev := s.registry.ResetNode(req.NodeID)
	s.log.Info("operator: node reset to Green",
		zap.String("node_id", req.NodeID),
		zap.String("prev_tier", string(prev)))
	return Response{OK: true, NodeID: req.NodeID, PrevTier: string(prev)}
}

func (s *Server) cmdPin(req Request) Response {
	if req.NodeID == "" {
		return Response{OK: false, Error: "node_id required for pin"}
	}
	target, err := parseTier(req.Tier)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.registry.PinTier(req.NodeID, target)
	s.log.Info("operator: node tier pinned",
		zap.String("node_id", req.NodeID),
		zap.String("tier", string(target)))
	return Response{OK: true, NodeID: req.NodeID, PinnedTier: string(target)}
}

func (s *Server) cmdUnpin(req Request) Response {
	if req.NodeID == "" {
		return Response{OK: false, Error: "node_id required for unpin"}
	}
	s.registry.UnpinTier(req.NodeID)
	s.log.Info("operator: node tier unpinned", zap.String("node_id", req.NodeID))
	return Response{OK: true, NodeID: req.NodeID}
}

func (s *Server) cmdStatus(req Request) Response {
	if req.NodeID == "" {
		return Response{OK: false, Error: "node_id required for status"}
	}
	tier, tracked := s.registry.GetTier(req.NodeID)
	if !tracked {
		return Response{OK: false, Error: fmt.Sprintf("node %q not tracked", req.NodeID)}
	}
	return Response{
		OK:          true,
		NodeID:      req.NodeID,
		Tier:        string(tier),
		Pinned:      s.registry.IsPinned(req.NodeID),
		TraumaLocal: s.registry.TraumaLocal(req.NodeID),
	}
}

func (s *Server) cmdList() Response {
	return Response{OK: true, Nodes: s.registry.ListAll()}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// parseTier converts a tier name string to a decision.Tier.
func parseTier(name string) (decision.Tier, error) {
	switch decision.Tier(name) {
	case decision.TierGreen, decision.TierYellow, decision.TierOrange, decision.TierRed:
		return decision.Tier(name), nil
	default:
		return decision.TierGreen, fmt.Errorf("unknown tier %q (valid: green yellow orange red)", name)
	}
}

// ─── Mutex-protected in-memory registry (used by the agent) ───────────────

// MemRegistry is a thread-safe in-memory implementation of NodeRegistry.
// The agent embeds this and passes it to both the operator server and its
// tick loop, which records each tick's tier and trauma_local here.
type MemRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*nodeEntry
}

type nodeEntry struct {
	tier        decision.Tier
	pinned      bool
	traumaLocal float64
}

// NewMemRegistry creates an empty MemRegistry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{nodes: make(map[string]*nodeEntry)}
}

func (r *MemRegistry) GetTier(nodeID string) (decision.Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return decision.TierGreen, false
	}
	return e.tier, true
}

func (r *MemRegistry) ResetNode(nodeID string) decision.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return decision.TierGreen
	}
	prev := e.tier
	e.tier = decision.TierGreen
	e.traumaLocal = 0.0
	e.pinned = false
	return prev
}

func (r *MemRegistry) PinTier(nodeID string, tier decision.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; !ok {
		r.nodes[nodeID] = &nodeEntry{}
	}
	r.nodes[nodeID].tier = tier
	r.nodes[nodeID].pinned = true
}

func (r *MemRegistry) UnpinTier(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[nodeID]; ok {
		e.pinned = false
	}
}

func (r *MemRegistry) IsPinned(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[nodeID]
	return ok && e.pinned
}

func (r *MemRegistry) TraumaLocal(nodeID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.nodes[nodeID]; ok {
		return e.traumaLocal
	}
	return 0.0
}

// SetTraumaLocal updates the tracked trauma_local value for a node, and its
// tier unless pinned; called by the node agent's tick loop after each tick.
func (r *MemRegistry) SetTraumaLocal(nodeID string, tier decision.Tier, traumaLocal float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		e = &nodeEntry{}
		r.nodes[nodeID] = e
	}
	if !e.pinned {
		e.tier = tier
	}
	e.traumaLocal = traumaLocal
}

func (r *MemRegistry) ListAll() []NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeStatus, 0, len(r.nodes))
	for id, e := range r.nodes {
		out = append(out, NodeStatus{
			NodeID:      id,
			Tier:        e.tier,
			Pinned:      e.pinned,
			TraumaLocal: e.traumaLocal,
		})
	}
	return out
}
