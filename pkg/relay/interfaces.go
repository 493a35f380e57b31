package relay

import (
	"context"
)

// ====================================================================================
// This file defines the contracts between the broker connection, the relay
// service, and the fan-out channel. Components communicate through channels
// and these interfaces rather than direct callback chaining, so each stage can
// be exercised in isolation.
// ====================================================================================

// BrokerConsumer defines the interface for the inbound side of the broker
// connection. It is responsible for receiving messages and handing them off
// to the relay.
type BrokerConsumer interface {
	// Messages returns a read-only channel from which the relay receives
	// inbound broker messages.
	Messages() <-chan BrokerMessage
	// Start begins consumption (e.g. by connecting and subscribing).
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
	// IsConnected reports whether the underlying broker connection is currently up.
	IsConnected() bool
}

// Publisher defines the outbound side of the broker connection. Publish must
// be safe to invoke concurrently from multiple in-flight requests.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Broadcaster is the fan-out channel: it delivers an envelope to every open
// session. Per-session delivery failures are contained by the implementation
// and never surfaced to the caller.
type Broadcaster interface {
	Broadcast(env Envelope)
}
