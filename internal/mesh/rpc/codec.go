// Package rpc provides the mesh transport: a hand-registered gRPC service
// descriptor carrying JSON-encoded envelopes instead of generated protobuf
// stubs. No .proto/codegen exists for this transport, so messages are
// plain Go structs marshaled through a custom grpc/encoding.Codec — the
// same mTLS/grpc.Server plumbing the gossip layer used, minus the
// protoc-gen-go-grpc step (§9).
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype this codec registers under; gRPC
// negotiates codecs via the "grpc-encoding" / "content-type" metadata.
const CodecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("mesh rpc: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
