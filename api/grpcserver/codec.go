package grpcserver

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
)

// Codec speaks protobuf wire format for the hand-written clob.v1 messages
// and defers to the protobuf runtime for everything else (health checks).
// It is installed per server and per connection, never registered
// globally.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case wireMessage:
		return m.MarshalWire(), nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, errors.Newf("grpc codec: cannot marshal %T", v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case wireMessage:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return errors.Newf("grpc codec: cannot unmarshal into %T", v)
}
