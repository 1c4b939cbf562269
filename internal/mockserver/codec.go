package mockserver

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodec is a pass-through grpc encoding.Codec that hands back the
// exact bytes it receives instead of unmarshalling into a generated
// proto.Message. Registered under the "proto" name (the codec a gRPC
// client normally negotiates for application/grpc+proto) so the server
// accepts ordinary gRPC clients without requiring them to know this is a
// dynamically-dispatched mock, following the same "decode against a
// runtime descriptor rather than a generated type" idiom used throughout
// this repo's WireCodec.
type rawCodec struct{}

func (rawCodec) Name() string { return "proto" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("mockserver: rawCodec.Marshal: unsupported type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("mockserver: rawCodec.Unmarshal: unsupported type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func registerRawCodec() {
	encoding.RegisterCodec(rawCodec{})
}
