// Package grpcapi exposes token authentication over gRPC for other backend services.
//
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content-subtype, so no generated protobuf code is involved. Clients
// must call with grpc.CallContentSubtype(CodecName); NewAuthServiceClient does.
package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the JSON codec.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }
