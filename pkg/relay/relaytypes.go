// relay/relaytypes.go
package relay

import "time"

// BrokerMessage is the canonical representation of a raw message received from
// the broker, as handed to the fan-out stage. It is immutable once created.
type BrokerMessage struct {
	// Topic is the broker topic the message arrived on.
	Topic string

	// Payload is the raw byte content of the message. It is a private copy;
	// the relay never parses it.
	Payload []byte

	// Duplicate reports whether the broker flagged this delivery as a re-send.
	Duplicate bool

	// ReceivedAt is the timestamp when the relay received the message.
	ReceivedAt time.Time
}

// Envelope types sent over the real-time channel.
const (
	// TypeConnected is sent once to a session immediately after it opens.
	TypeConnected = "connected"

	// TypeMQTTMessage wraps each relayed broker message.
	TypeMQTTMessage = "mqtt-message"
)

// Envelope is the JSON wire format delivered to real-time clients. The
// payload key is always present on the wire, even for an empty broker
// payload, matching what dashboard clients expect.
type Envelope struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload string `json:"payload"`
	Message string `json:"message,omitempty"`
}

// NewMessageEnvelope wraps a broker message for delivery to clients. The
// payload travels as an opaque string; payloads that are not valid JSON are
// passed through untouched.
func NewMessageEnvelope(msg BrokerMessage) Envelope {
	return Envelope{
		Type:    TypeMQTTMessage,
		Topic:   msg.Topic,
		Payload: string(msg.Payload),
	}
}

// NewConnectedEnvelope is the greeting sent to a newly opened session.
func NewConnectedEnvelope() Envelope {
	return Envelope{
		Type:    TypeConnected,
		Message: "Connected to server",
	}
}
