package connectjson

import (
	"encoding/json"

	"github.com/bufbuild/connect-go"
)

// Codec is a plain-JSON Connect codec. The daemon's stream types are
// hand-written Go structs rather than protobuf messages, so the default
// proto codec does not apply; this one keeps the wire format identical
// to the NDJSON transport.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ connect.Codec = (*Codec)(nil)
