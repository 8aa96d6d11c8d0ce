// Package serializer converts dispatched values to and from the bytes stored
// on a queue.
//
// Every payload is wrapped in a small JSON frame. The frame names the payload
// type and, for async envelopes, carries the queue override and publish count
// so that retry bookkeeping survives the trip through the queue.
package serializer

import (
	"encoding/json"
	sterrors "errors"
	"fmt"

	envelopepkg "github.com/drblury/asyncflow/internal/runtime/envelope"
	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	"github.com/drblury/asyncflow/internal/runtime/jsoncodec"
)

const (
	kindMessage = "message"
	kindAsync   = "async"

	contentTypeJSON = "application/json"
)

// Serializer turns dispatched values into bytes and back.
type Serializer interface {
	Serialize(msg any) ([]byte, error)
	Deserialize(data []byte) (any, error)
}

// PayloadCodec encodes the message carried inside a frame.
type PayloadCodec interface {
	ContentType() string
	Encode(msg any) (typeName string, data []byte, err error)
	Decode(typeName string, data []byte) (any, error)
}

type frame struct {
	Kind         string          `json:"kind"`
	Type         string          `json:"type"`
	ContentType  string          `json:"datacontenttype,omitempty"`
	Queue        *string         `json:"queue,omitempty"`
	PublishCount int             `json:"publish_count,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	DataBase64   []byte          `json:"data_base64,omitempty"`
}

// FrameSerializer is the Serializer shipped with asyncflow. It is stateless
// apart from its codec and safe for concurrent use.
type FrameSerializer struct {
	codec PayloadCodec
}

var _ Serializer = (*FrameSerializer)(nil)

// New builds a frame serializer on top of codec.
func New(codec PayloadCodec) (*FrameSerializer, error) {
	if codec == nil {
		return nil, fmt.Errorf("%w: payload codec is nil", errspkg.ErrSerializerRequired)
	}
	return &FrameSerializer{codec: codec}, nil
}

// NewJSON is shorthand for New(NewJSONCodec(registry)).
func NewJSON(registry *Registry) *FrameSerializer {
	return &FrameSerializer{codec: NewJSONCodec(registry)}
}

// NewProto is shorthand for New(NewProtoCodec(resolver)).
func NewProto(resolver MessageResolver) *FrameSerializer {
	return &FrameSerializer{codec: NewProtoCodec(resolver)}
}

func (s *FrameSerializer) Serialize(msg any) ([]byte, error) {
	if msg == nil {
		return nil, errspkg.ErrNilMessage
	}

	f := frame{Kind: kindMessage}
	payload := msg
	if async, ok := envelopepkg.AsAsync(msg); ok {
		f.Kind = kindAsync
		f.PublishCount = async.PublishCount()
		if name, has := async.QueueName(); has {
			f.Queue = &name
		}
		payload = async.Message()
	}
	if payload == nil {
		return nil, errspkg.ErrNilMessage
	}
	if _, nested := payload.(envelopepkg.Envelope); nested {
		return nil, fmt.Errorf("asyncflow: cannot serialize nested envelope %T", payload)
	}

	typeName, data, err := s.codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", payload, err)
	}
	f.Type = typeName
	f.ContentType = s.codec.ContentType()
	if f.ContentType == contentTypeJSON {
		f.Data = data
	} else {
		f.DataBase64 = data
	}

	return jsoncodec.Marshal(f)
}

func (s *FrameSerializer) Deserialize(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", errspkg.ErrDecode)
	}

	var f frame
	if err := jsoncodec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrDecode, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: frame has no type", errspkg.ErrDecode)
	}

	body := []byte(f.Data)
	if len(f.DataBase64) > 0 {
		body = f.DataBase64
	}
	msg, err := s.codec.Decode(f.Type, body)
	if err != nil {
		if sterrors.Is(err, errspkg.ErrDecode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errspkg.ErrDecode, err)
	}

	switch f.Kind {
	case kindMessage, "":
		return msg, nil
	case kindAsync:
		queue := ""
		if f.Queue != nil {
			queue = *f.Queue
		}
		return envelopepkg.Restore(msg, queue, f.PublishCount), nil
	default:
		return nil, fmt.Errorf("%w: unknown frame kind %q", errspkg.ErrDecode, f.Kind)
	}
}
