package commands

import "encoding/json"

// ctlJSONCodec mirrors internal/rpc's server-side codec: plain
// encoding/json over the request/response structs, since this module
// carries no generated protobuf stubs.
type ctlJSONCodec struct{}

func (ctlJSONCodec) Name() string { return "json" }

func (ctlJSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (ctlJSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
