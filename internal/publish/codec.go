package publish

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec turns a task output into the stored blob
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
}

// CodecFor returns the codec registered under name
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "proto":
		return ProtoCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ProtoCodec stores the output as a binary google.protobuf.Value.
// The output is first normalized through JSON, so structs, maps and
// slices all encode.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Encode(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	value, err := structpb.NewValue(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to convert output: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(value)
}

// DecodeProto reverses ProtoCodec.Encode
func DecodeProto(b []byte) (any, error) {
	var value structpb.Value
	if err := proto.Unmarshal(b, &value); err != nil {
		return nil, err
	}
	return value.AsInterface(), nil
}

// JSONCodec stores the output as JSON
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("output is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
