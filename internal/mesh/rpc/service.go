package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
)

// Envelope is the signed wire message exchanged between nodes, mirroring
// the signature-verification shape the gossip layer used (node_id,
// timestamp, a domain-specific payload, and a detached signature) but
// carrying a JSON payload instead of a fixed protobuf schema.
type Envelope struct {
	NodeID          string          `json:"node_id"`
	TimestampUnixNs int64           `json:"timestamp_unix_ns"`
	MessageID       string          `json:"message_id"`
	RiskScore       float64         `json:"risk_score"`
	PayloadJSON     json.RawMessage `json:"payload"`
	Signature       []byte          `json:"signature"`
}

// AckResponse acknowledges a ShareObservation call.
type AckResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// HealthRequest is HealthCheck's empty request.
type HealthRequest struct{}

// HealthResponse reports a node's liveness.
type HealthResponse struct {
	NodeID        string `json:"node_id"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// MeshServiceServer is the service contract, satisfied by mesh.Server.
type MeshServiceServer interface {
	ShareObservation(context.Context, *Envelope) (*AckResponse, error)
	HealthCheck(context.Context, *HealthRequest) (*HealthResponse, error)
}

// UnimplementedMeshServiceServer embeds into real implementations for
// forward compatibility, matching the protoc-gen-go-grpc convention.
type UnimplementedMeshServiceServer struct{}

func (UnimplementedMeshServiceServer) ShareObservation(context.Context, *Envelope) (*AckResponse, error) {
	return nil, grpcUnimplemented("ShareObservation")
}

func (UnimplementedMeshServiceServer) HealthCheck(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, grpcUnimplemented("HealthCheck")
}

func grpcUnimplemented(method string) error {
	return fmt.Errorf("mesh rpc: method %s not implemented", method)
}

const serviceName = "emberwatch.mesh.v1.MeshService"

func _MeshService_ShareObservation_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServiceServer).ShareObservation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ShareObservation"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServiceServer).ShareObservation(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func _MeshService_HealthCheck_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeshServiceServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/HealthCheck"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeshServiceServer).HealthCheck(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-authored equivalent of protoc-gen-go-grpc's
// generated _MeshService_serviceDesc, registered directly with
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MeshServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ShareObservation", Handler: _MeshService_ShareObservation_Handler},
		{MethodName: "HealthCheck", Handler: _MeshService_HealthCheck_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/mesh/rpc/service.go",
}

// RegisterMeshServiceServer registers srv with s, mirroring the generated
// RegisterXServiceServer helper.
func RegisterMeshServiceServer(s grpc.ServiceRegistrar, srv MeshServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// MeshServiceClient is the client stub, mirroring the generated client.
type MeshServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMeshServiceClient wraps a dialed connection.
func NewMeshServiceClient(cc grpc.ClientConnInterface) *MeshServiceClient {
	return &MeshServiceClient{cc: cc}
}

// ShareObservation calls the remote ShareObservation method.
func (c *MeshServiceClient) ShareObservation(ctx context.Context, env *Envelope, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ShareObservation", env, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthCheck calls the remote HealthCheck method.
func (c *MeshServiceClient) HealthCheck(ctx context.Context, req *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/HealthCheck", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
