package control

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec marshals control-plane request/response structs as JSON
// instead of generated proto.Message wire bytes, for the reasons given
// in types.go's package doc. It is set per-server via
// grpc.ForceServerCodec, so it never needs registering in the global
// encoding.Codec registry the way internal/mockserver's rawCodec does.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("control: jsonCodec marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("control: jsonCodec unmarshal: %w", err)
	}
	return nil
}

var _ encoding.Codec = jsonCodec{}
