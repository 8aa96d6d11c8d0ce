package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/asyncflow/internal/runtime/errors"
	"github.com/drblury/asyncflow/transport/transporttest"
)

func stubBuilder(pub *transporttest.Publisher, sub *transporttest.Subscriber) Builder {
	return func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pub, Subscriber: sub}, nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("kafka"))
}

func TestRegistryBuild(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}

	reg := NewRegistry()
	reg.Register("test", stubBuilder(pub, sub))

	t.Run("builds the configured system", func(t *testing.T) {
		tr, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "test"}, nil)
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
	})

	t.Run("unknown system lists registered names", func(t *testing.T) {
		_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "carrier-pigeon"}, nil)
		require.ErrorIs(t, err, errspkg.ErrUnknownTransport)
		assert.Contains(t, err.Error(), `"carrier-pigeon"`)
		assert.Contains(t, err.Error(), "[test]")
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), nil, nil)
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})

	t.Run("builder errors are returned", func(t *testing.T) {
		reg.Register("broken", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, errors.New("dial failed")
		})
		_, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "broken"}, nil)
		assert.ErrorContains(t, err, "dial failed")
	})
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("kafka", stubBuilder(nil, nil), KafkaCapabilities)

	assert.Equal(t, KafkaCapabilities, reg.GetCapabilities("kafka"))
	assert.Equal(t, Capabilities{Name: "unknown"}, reg.GetCapabilities("unknown"))
}

func TestRegistryResolveReturnsCapabilities(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	reg := NewRegistry()
	reg.RegisterWithCapabilities("RabbitMQ", stubBuilder(pub, sub), RabbitMQCapabilities)

	tr, caps, err := reg.Resolve(context.Background(), &transporttest.Config{PubSubSystem: "rabbitmq"}, nil)
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Equal(t, RabbitMQCapabilities, caps)
	assert.True(t, reg.Has(" RABBITMQ "))
}

func TestRegistryRetrySafety(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("kafka", stubBuilder(nil, nil), KafkaCapabilities)
	reg.RegisterWithCapabilities("channel", stubBuilder(nil, nil), ChannelCapabilities)
	reg.RegisterWithCapabilities("aws", stubBuilder(nil, nil), AWSCapabilities)
	reg.Register("custom", stubBuilder(nil, nil))

	assert.True(t, reg.SafeForRetries("kafka"))
	assert.False(t, reg.SafeForRetries("channel"))
	assert.False(t, reg.SafeForRetries("custom"), "transports without declared guarantees are volatile")
	assert.False(t, reg.SafeForRetries("unknown"))
	assert.Equal(t, Capabilities{Name: "custom"}, reg.GetCapabilities("custom"))
	assert.Equal(t, []string{"aws", "kafka"}, reg.RetrySafe())
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"rabbitmq", "aws", "kafka"} {
		reg.Register(name, stubBuilder(nil, nil))
	}
	assert.Equal(t, []string{"aws", "kafka", "rabbitmq"}, reg.Names())
}
