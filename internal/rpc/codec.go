package rpc

import "encoding/json"

// jsonCodec replaces connect's default "json" codec, which requires a
// proto.Message, with plain encoding/json over the StatsRequest/Response
// and ResetRequest/Response structs. This module carries no generated
// protobuf stubs, so every procedure registers this codec explicitly.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
