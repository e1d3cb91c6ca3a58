package pb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// Message is implemented by every FluxControl wire message.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// Codec is the grpc codec for FluxControl messages. It reports itself as
// "proto" since the bytes it produces are protobuf wire format. Since
// ServerCodec forces it for a whole grpc.Server, generated proto.Message
// types are passed through to the protobuf runtime so other services can
// share that server.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.Marshal()
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("flux codec: cannot marshal %T", v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.Unmarshal(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("flux codec: cannot unmarshal into %T", v)
}

func (Codec) Name() string { return "proto" }
