package mqttbroker_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqtt-relay/pkg/mqttbroker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMQTTMessage implements the paho mqtt.Message interface for handler tests.
type fakeMQTTMessage struct {
	topic     string
	payload   []byte
	duplicate bool
}

func (m *fakeMQTTMessage) Duplicate() bool   { return m.duplicate }
func (m *fakeMQTTMessage) Qos() byte         { return 1 }
func (m *fakeMQTTMessage) Retained() bool    { return false }
func (m *fakeMQTTMessage) Topic() string     { return m.topic }
func (m *fakeMQTTMessage) MessageID() uint16 { return 1 }
func (m *fakeMQTTMessage) Payload() []byte   { return m.payload }
func (m *fakeMQTTMessage) Ack()              {}

func newTestConfig() *mqttbroker.Config {
	cfg := mqttbroker.LoadConfigFromEnv()
	cfg.BrokerURL = "tcp://localhost:1883"
	cfg.Topic = "goapp/messages"
	return cfg
}

func TestNewConnection_Validation(t *testing.T) {
	t.Run("Requires a broker URL", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.BrokerURL = ""
		_, err := mqttbroker.NewConnection(cfg, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("Requires a topic", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.Topic = ""
		_, err := mqttbroker.NewConnection(cfg, zerolog.Nop())
		require.Error(t, err)
	})

	t.Run("Valid config succeeds", func(t *testing.T) {
		conn, err := mqttbroker.NewConnection(newTestConfig(), zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, conn)
	})
}

func TestConnection_HandleIncomingMessage(t *testing.T) {
	// Arrange
	conn, err := mqttbroker.NewConnection(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := conn.GetMessageHandlerForTest(ctx)

	original := []byte(`{"action":"compass"}`)
	inbound := &fakeMQTTMessage{topic: "goapp/messages", payload: original, duplicate: true}

	// Act
	handler(nil, inbound)

	// Assert
	select {
	case msg := <-conn.Messages():
		assert.Equal(t, "goapp/messages", msg.Topic)
		assert.Equal(t, original, msg.Payload)
		assert.True(t, msg.Duplicate)
		assert.False(t, msg.ReceivedAt.IsZero())

		// The handler must copy the payload, not alias the broker's buffer.
		inbound.payload[0] = 'X'
		assert.Equal(t, byte('{'), msg.Payload[0])
	case <-time.After(time.Second):
		t.Fatal("Message was not pushed to the output channel in time")
	}
}

func TestConnection_HandlerAfterStopDropsMessage(t *testing.T) {
	// Arrange: a stopped connection has a closed output channel; an in-flight
	// Paho handler arriving afterwards must drop the message, not panic.
	conn, err := mqttbroker.NewConnection(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := conn.GetMessageHandlerForTest(ctx)

	require.NoError(t, conn.Stop(context.Background()))

	// Act / Assert
	require.NotPanics(t, func() {
		handler(nil, &fakeMQTTMessage{topic: "goapp/messages", payload: []byte("late arrival")})
	})
}

func TestConnection_PublishWhenDisconnected(t *testing.T) {
	// Arrange: a connection that never started has no live Paho client.
	conn, err := mqttbroker.NewConnection(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.False(t, conn.IsConnected())

	// Act
	err = conn.Publish(context.Background(), "goapp/messages", []byte("hello"))

	// Assert
	require.ErrorIs(t, err, mqttbroker.ErrNotConnected)
}

func TestConnection_StopIsIdempotent(t *testing.T) {
	conn, err := mqttbroker.NewConnection(newTestConfig(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, conn.Stop(context.Background()))
	require.NoError(t, conn.Stop(context.Background()))

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel was not closed after Stop")
	}
}
