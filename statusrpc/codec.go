package statusrpc

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec, letting
// Server use ordinary JSON-tagged Go structs as its wire messages instead of
// requiring protoc-generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
