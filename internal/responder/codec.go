package responder

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName selects the JSON codec via the gRPC content-subtype
// negotiation ("application/grpc+json").
const codecName = "json"

// jsonCodec lets us speak to the responder service without generated
// message types; both ends agree on JSON-encoded frames.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if v == nil {
		return fmt.Errorf("cannot unmarshal into nil")
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
