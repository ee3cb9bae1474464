package transport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/mediator/internal/dispatch/jsoncodec"
)

// Codec translates between wire payloads and the Go message values the
// dispatcher works with.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

// JSONCodec encodes messages as JSON. It is the default bridge codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return jsoncodec.Unmarshal(data, v)
}

func (JSONCodec) ContentType() string { return "application/json" }

// ProtoJSONCodec encodes protobuf messages in the protojson wire format, so
// payloads stay readable while schemas remain proto-defined. Non-proto
// values are rejected.
type ProtoJSONCodec struct {
	// Marshaler tunes protojson output. The zero value is used when unset.
	Marshaler protojson.MarshalOptions
	// Unmarshaler tunes protojson parsing. The zero value is used when unset.
	Unmarshaler protojson.UnmarshalOptions
}

func (c ProtoJSONCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protojson codec requires a proto.Message, got %T", v)
	}
	return c.Marshaler.Marshal(msg)
}

func (c ProtoJSONCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protojson codec requires a proto.Message, got %T", v)
	}
	return c.Unmarshaler.Unmarshal(data, msg)
}

func (ProtoJSONCodec) ContentType() string { return "application/json" }
