package wshub

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-mqtt-relay/pkg/relay"
)

// These tests drive the registry directly to pin down interleavings that are
// hard to hit through a real socket: a session that closes between the
// broadcast's registry snapshot and the per-session send must lose only its
// own delivery, never crash the broadcast path.

func TestBroadcast_SessionClosedBetweenSnapshotAndSend(t *testing.T) {
	// Arrange: a registered session whose send channel has already been
	// closed, as happens when a disconnect lands mid-broadcast.
	hub := New(zerolog.Nop())
	s := &session{id: "closing-session", send: make(chan []byte, sendBufSize)}
	hub.register(s)
	s.closeSend()

	// Act / Assert
	require.NotPanics(t, func() {
		hub.Broadcast(relay.Envelope{Type: relay.TypeMQTTMessage, Topic: "goapp/messages", Payload: "dropped"})
	})
	assert.Equal(t, 0, hub.Count(), "the closed session should be dropped from the registry")
}

func TestBroadcast_OthersStillDeliveredWhenOneSessionCloses(t *testing.T) {
	// Arrange
	hub := New(zerolog.Nop())
	closing := &session{id: "closing", send: make(chan []byte, sendBufSize)}
	healthy := &session{id: "healthy", send: make(chan []byte, sendBufSize)}
	hub.register(closing)
	hub.register(healthy)
	closing.closeSend()

	// Act
	require.NotPanics(t, func() {
		hub.Broadcast(relay.Envelope{Type: relay.TypeMQTTMessage, Topic: "goapp/messages", Payload: "delivered"})
	})

	// Assert: the healthy session received its copy.
	select {
	case data := <-healthy.send:
		assert.Contains(t, string(data), "delivered")
	default:
		t.Fatal("healthy session did not receive the broadcast")
	}
}

func TestBroadcast_ConcurrentWithUnregister(t *testing.T) {
	// Arrange: hammer broadcast and unregister concurrently across many
	// sessions; any send-on-closed-channel panic fails the test.
	hub := New(zerolog.Nop())

	const sessions = 100
	all := make([]*session, sessions)
	for i := range all {
		all[i] = &session{id: "stress", send: make(chan []byte, 1)}
		hub.register(all[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.Broadcast(relay.Envelope{Type: relay.TypeMQTTMessage, Payload: "stress"})
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range all {
			hub.unregister(s)
		}
	}()

	// Act / Assert: completion without panic is the assertion.
	wg.Wait()
	assert.Equal(t, 0, hub.Count())
}

func TestUnregister_Idempotent(t *testing.T) {
	hub := New(zerolog.Nop())
	s := &session{id: "twice", send: make(chan []byte, 1)}
	hub.register(s)

	require.NotPanics(t, func() {
		hub.unregister(s)
		hub.unregister(s)
	})
	assert.Equal(t, 0, hub.Count())
}
