package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/mediator/transport"
)

func TestRegisteredOnImport(t *testing.T) {
	assert.True(t, transport.Has(TransportName))

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsPartitioning)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NotNil(t, tr.Publisher)
	require.NotNil(t, tr.Subscriber)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := tr.Subscriber.Subscribe(ctx, "orders")
	require.NoError(t, err)

	sent := message.NewMessage("msg-1", []byte(`{"id":1}`))
	require.NoError(t, tr.Publisher.Publish("orders", sent))

	select {
	case got := <-msgs:
		assert.Equal(t, "msg-1", got.UUID)
		assert.Equal(t, []byte(`{"id":1}`), []byte(got.Payload))
		got.Ack()
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}

	assert.NoError(t, tr.Publisher.Close())
}

type mockConfig struct{}

func (m *mockConfig) GetPubSubSystem() string       { return "channel" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetNATSJetStreamEnabled() bool { return false }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
