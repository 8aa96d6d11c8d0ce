package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/asyncflow/transport/transporttest"
)

func TestTransportClose(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}

	require.NoError(t, Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)

	assert.NoError(t, Transport{}.Close())
}

func TestAlphanumericTopics(t *testing.T) {
	tests := map[string]string{
		"messages":        "messages",
		"messages.failed": "messages_failed",
		"billing-v2":      "billing-v2",
		"a b/c*d>e":       "a_b_c_d_e",
	}
	for in, want := range tests {
		assert.Equal(t, want, AlphanumericTopics(in), in)
	}
}

func TestMapTopics(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	mapped := MapTopics(Transport{Publisher: pub, Subscriber: sub}, AlphanumericTopics)

	require.NoError(t, mapped.Publisher.Publish("orders.failed"))
	_, err := mapped.Subscriber.Subscribe(context.Background(), "orders.failed")
	require.NoError(t, err)
	require.NoError(t, mapped.Close())

	assert.Equal(t, []string{"orders_failed"}, pub.Topics)
	assert.Equal(t, []string{"orders_failed"}, sub.Topics)
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)

	same := Transport{Publisher: pub, Subscriber: sub}
	assert.Equal(t, same, MapTopics(same, nil))
}

func TestSafeForRetries(t *testing.T) {
	assert.True(t, KafkaCapabilities.SafeForRetries())
	assert.True(t, RabbitMQCapabilities.SafeForRetries())
	assert.True(t, AWSCapabilities.SafeForRetries())
	assert.True(t, NATSJetStreamCapabilities.SafeForRetries())
	assert.False(t, NATSCapabilities.SafeForRetries())
	assert.False(t, ChannelCapabilities.SafeForRetries())
	assert.False(t, HTTPCapabilities.SafeForRetries())
}
