package mesh

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/emberwatch/emberwatch/internal/mesh/rpc"
)

// Inbox is the interface the Server uses to forward accepted envelopes into
// a node's routing/aggregation logic, keeping transport concerns (TLS,
// envelope verification) separate from routing (§4.9, §9).
type Inbox interface {
	// Receive handles an accepted MeshMessage from a trusted peer.
	Receive(msg MeshMessage)
}

// Server implements rpc.MeshServiceServer: TLS 1.3 mTLS transport with
// Ed25519 envelope verification (timestamp TTL, peer trust, signature),
// adapted from the gossip layer's envelope-verification contract to carry
// MeshMessage payloads instead of anomaly-score envelopes (§4.9, §6.1-6.2).
type Server struct {
	rpc.UnimplementedMeshServiceServer

	nodeID       string
	trustedPeers map[string]ed25519.PublicKey
	envelopeTTL  time.Duration
	inbox        Inbox
	log          *zap.Logger
	startTime    time.Time
}

// NewServer creates a mesh transport server.
func NewServer(nodeID string, trustedPeers map[string]ed25519.PublicKey, envelopeTTL time.Duration, inbox Inbox, log *zap.Logger) *Server {
	return &Server{
		nodeID: nodeID, trustedPeers: trustedPeers, envelopeTTL: envelopeTTL,
		inbox: inbox, log: log, startTime: time.Now(),
	}
}

// ShareObservation implements rpc.MeshServiceServer. Verifies the envelope
// and, if accepted, decodes and forwards the carried MeshMessage.
func (s *Server) ShareObservation(ctx context.Context, env *rpc.Envelope) (*rpc.AckResponse, error) {
	envTime := time.Unix(0, env.TimestampUnixNs)
	age := time.Since(envTime)
	if age > s.envelopeTTL || age < -5*time.Second {
		s.log.Warn("mesh envelope rejected: stale timestamp", zap.String("node_id", env.NodeID), zap.Duration("age", age))
		return &rpc.AckResponse{Accepted: false, RejectionReason: "timestamp_stale"}, nil
	}

	pubKey, trusted := s.trustedPeers[env.NodeID]
	if !trusted {
		s.log.Warn("mesh envelope rejected: unknown peer", zap.String("node_id", env.NodeID))
		return &rpc.AckResponse{Accepted: false, RejectionReason: "peer_unknown"}, nil
	}

	if !ed25519.Verify(pubKey, envelopeSignatureMessage(env), env.Signature) {
		s.log.Warn("mesh envelope rejected: invalid signature", zap.String("node_id", env.NodeID))
		return &rpc.AckResponse{Accepted: false, RejectionReason: "signature_invalid"}, nil
	}

	var msg MeshMessage
	if err := json.Unmarshal(env.PayloadJSON, &msg); err != nil {
		return &rpc.AckResponse{Accepted: false, RejectionReason: "payload_malformed"}, nil
	}

	s.inbox.Receive(msg)
	s.log.Debug("mesh envelope accepted", zap.String("node_id", env.NodeID), zap.String("message_id", msg.MessageID))
	return &rpc.AckResponse{Accepted: true}, nil
}

// HealthCheck implements rpc.MeshServiceServer.
func (s *Server) HealthCheck(ctx context.Context, req *rpc.HealthRequest) (*rpc.HealthResponse, error) {
	return &rpc.HealthResponse{
		NodeID: s.nodeID, Status: "ok", UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}, nil
}

// envelopeSignatureMessage constructs the canonical signed byte sequence:
// node_id || timestamp (8 LE) || message_id || risk_score (8 LE IEEE754).
func envelopeSignatureMessage(env *rpc.Envelope) []byte {
	var buf []byte
	buf = append(buf, []byte(env.NodeID)...)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(env.TimestampUnixNs))
	buf = append(buf, ts...)
	buf = append(buf, []byte(env.MessageID)...)
	rs := make([]byte, 8)
	binary.LittleEndian.PutUint64(rs, math.Float64bits(env.RiskScore))
	buf = append(buf, rs...)
	return buf
}

// SignEnvelope signs a MeshMessage into a transmittable Envelope. Used by
// Drone/Queen senders before invoking ShareObservation on a peer.
func SignEnvelope(nodeID string, priv ed25519.PrivateKey, msg MeshMessage, now time.Time) (*rpc.Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mesh: marshal payload: %w", err)
	}
	risk := 0.0
	if msg.Alert != nil {
		risk = msg.Alert.RiskScore
	}
	env := &rpc.Envelope{
		NodeID: nodeID, TimestampUnixNs: now.UnixNano(), MessageID: msg.MessageID,
		RiskScore: risk, PayloadJSON: payload,
	}
	env.Signature = ed25519.Sign(priv, envelopeSignatureMessage(env))
	return env, nil
}

// ListenAndServe starts the gRPC mTLS mesh server on addr. Blocks until ctx
// is cancelled.
func ListenAndServe(ctx context.Context, addr string, certFile, keyFile, caFile string, srv *Server, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(certFile, keyFile, caFile)
	if err != nil {
		return fmt.Errorf("mesh TLS config: %w", err)
	}

	creds := credentials.NewTLS(tlsCfg)
	grpcSrv := grpc.NewServer(grpc.Creds(creds), grpc.MaxRecvMsgSize(256*1024), grpc.MaxSendMsgSize(256*1024))
	rpc.RegisterMeshServiceServer(grpcSrv, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mesh listen %s: %w", addr, err)
	}
	log.Info("mesh server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("mesh grpc serve: %w", err)
	}
	return nil
}

func buildServerTLS(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", caFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
