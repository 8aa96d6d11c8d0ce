package serializer

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	"github.com/drblury/asyncflow/internal/runtime/jsoncodec"
)

const contentTypeProto = "application/protobuf"

// JSONCodec encodes payloads as JSON using the types known to its registry.
type JSONCodec struct {
	registry *Registry
}

func NewJSONCodec(registry *Registry) *JSONCodec {
	if registry == nil {
		registry = NewRegistry()
	}
	return &JSONCodec{registry: registry}
}

func (c *JSONCodec) ContentType() string { return contentTypeJSON }

// Registry exposes the codec's registry so callers can add types later.
func (c *JSONCodec) Registry() *Registry { return c.registry }

func (c *JSONCodec) Encode(msg any) (string, []byte, error) {
	name, ok := c.registry.NameOf(msg)
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownMessageType, msg)
	}
	data, err := jsoncodec.Marshal(msg)
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

func (c *JSONCodec) Decode(typeName string, data []byte) (any, error) {
	target, finish, ok := c.registry.New(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", errspkg.ErrDecode, errspkg.ErrUnknownMessageType, typeName)
	}
	if len(data) == 0 {
		data = []byte("null")
	}
	if err := jsoncodec.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errspkg.ErrDecode, typeName, err)
	}
	return finish(), nil
}

// MessageResolver finds protobuf message types by full name.
type MessageResolver interface {
	FindMessageByName(protoreflect.FullName) (protoreflect.MessageType, error)
}

// ProtoCodec encodes protobuf messages in their binary wire format.
type ProtoCodec struct {
	resolver MessageResolver
}

// NewProtoCodec builds a codec resolving types through resolver, or through
// the global protobuf registry when resolver is nil.
func NewProtoCodec(resolver MessageResolver) *ProtoCodec {
	if resolver == nil {
		resolver = protoregistry.GlobalTypes
	}
	return &ProtoCodec{resolver: resolver}
}

func (c *ProtoCodec) ContentType() string { return contentTypeProto }

func (c *ProtoCodec) Encode(msg any) (string, []byte, error) {
	pm, ok := msg.(proto.Message)
	if !ok {
		return "", nil, fmt.Errorf("%w: %T is not a protobuf message", errspkg.ErrUnknownMessageType, msg)
	}
	data, err := proto.Marshal(pm)
	if err != nil {
		return "", nil, err
	}
	return string(pm.ProtoReflect().Descriptor().FullName()), data, nil
}

func (c *ProtoCodec) Decode(typeName string, data []byte) (any, error) {
	mt, err := c.resolver.FindMessageByName(protoreflect.FullName(typeName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %q: %v", errspkg.ErrDecode, errspkg.ErrUnknownMessageType, typeName, err)
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errspkg.ErrDecode, typeName, err)
	}
	return msg, nil
}
