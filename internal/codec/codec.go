package codec

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"hashdive-scraper/internal/channel"
	"hashdive-scraper/lib/jsonutil"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

var ErrUnknownSchema = errors.New("unknown schema")

// Codec turns wire bytes into a generic tree and back, the wire format is
// defined by whatever schema the implementation was given.
//
// note: fault injection point
type Codec interface {
	Decode(data []byte, schema string) (map[string]any, error)
	Encode(tree map[string]any, schema string) ([]byte, error)
}

// ProtoCodec interprets protobuf messages from a compiled descriptor set
// (protoc --include_imports --descriptor_set_out) without generated code.
type ProtoCodec struct {
	files *protoregistry.Files
	types *dynamicpb.Types
}

func NewProtoCodec(set *descriptorpb.FileDescriptorSet) (ProtoCodec, error) {
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return ProtoCodec{}, fmt.Errorf("load descriptors: %w", err)
	}
	return ProtoCodec{
		files: files,
		types: dynamicpb.NewTypes(files),
	}, nil
}

// LoadDescriptorSet reads a serialized FileDescriptorSet from path.
func LoadDescriptorSet(path string) (ProtoCodec, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return ProtoCodec{}, err
	}
	set := &descriptorpb.FileDescriptorSet{}
	err = proto.Unmarshal(contents, set)
	if err != nil {
		return ProtoCodec{}, fmt.Errorf("parse descriptor set %s: %w", path, err)
	}
	return NewProtoCodec(set)
}

// message finds a message by its full name, or by its short name when the
// short name is unambiguous.
func (c ProtoCodec) message(schema string) (protoreflect.MessageDescriptor, error) {
	desc, err := c.files.FindDescriptorByName(protoreflect.FullName(schema))
	if err == nil {
		if md, ok := desc.(protoreflect.MessageDescriptor); ok {
			return md, nil
		}
	}
	if strings.Contains(schema, ".") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}

	var found []protoreflect.MessageDescriptor
	c.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		messages := fd.Messages()
		for i := 0; i < messages.Len(); i++ {
			if string(messages.Get(i).Name()) == schema {
				found = append(found, messages.Get(i))
			}
		}
		return true
	})
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s is ambiguous, use the full name", ErrUnknownSchema, schema)
	}
}

func (c ProtoCodec) Decode(data []byte, schema string) (map[string]any, error) {
	md, err := c.message(schema)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	err = proto.UnmarshalOptions{Resolver: c.types}.Unmarshal(data, msg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema, err)
	}
	encoded, err := protojson.MarshalOptions{Resolver: c.types}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema, err)
	}
	tree := map[string]any{}
	err = jsonutil.Unmarshal(encoded, &tree)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema, err)
	}
	return tree, nil
}

func (c ProtoCodec) Encode(tree map[string]any, schema string) ([]byte, error) {
	md, err := c.message(schema)
	if err != nil {
		return nil, err
	}
	encoded, err := jsonutil.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", schema, err)
	}
	msg := dynamicpb.NewMessage(md)
	err = protojson.UnmarshalOptions{Resolver: c.types}.Unmarshal(encoded, msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", schema, err)
	}
	return proto.Marshal(msg)
}

// DecodeFrame decodes binary frames with the codec and text frames as json,
// text that is not json is kept under the "text" key.
func DecodeFrame(c Codec, schema string, msg channel.RawMessage) (map[string]any, error) {
	if msg.Binary {
		return c.Decode(msg.Data, schema)
	}
	tree := map[string]any{}
	err := jsonutil.Unmarshal(msg.Data, &tree)
	if err != nil {
		return map[string]any{"text": string(msg.Data)}, nil
	}
	return tree, nil
}
