package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Service orchestrates the relay pipeline: it consumes messages from a
// BrokerConsumer, wraps each one in an mqtt-message envelope, and hands it to
// the Broadcaster for fan-out to all open sessions.
type Service struct {
	consumer    BrokerConsumer
	broadcaster Broadcaster
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// NewService creates a new relay Service. It does not start consuming until
// Start is called.
func NewService(consumer BrokerConsumer, broadcaster Broadcaster, logger zerolog.Logger) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster cannot be nil")
	}
	return &Service{
		consumer:    consumer,
		broadcaster: broadcaster,
		logger:      logger.With().Str("service", "RelayService").Logger(),
	}, nil
}

// Start begins the service operation. It starts the consumer and then spawns
// the relay loop. A single loop goroutine hands messages to the broadcaster
// so that each session observes broker order.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting relay service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker consumer: %w", err)
	}
	s.logger.Info().Msg("Broker consumer started.")

	s.wg.Add(1)
	go s.relayLoop(ctx)

	s.logger.Info().Msg("Relay service started successfully.")
	return nil
}

// Stop gracefully shuts down the service in the correct order: the consumer
// first, so no new messages arrive, then the relay loop drains.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping relay service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	loopDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(loopDone)
	}()

	select {
	case <-loopDone:
		s.logger.Info().Msg("Relay loop completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for relay loop to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Relay service stopped.")
	return nil
}

// relayLoop is the single ordered hand-off between the consumer and the fan-out.
func (s *Service) relayLoop(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Debug().Msg("Relay loop started.")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Relay loop shutting down due to context cancellation.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Info().Msg("Consumer channel closed, relay loop exiting.")
				return
			}
			s.logger.Debug().Str("topic", msg.Topic).Msg("Relaying broker message.")
			s.broadcaster.Broadcast(NewMessageEnvelope(msg))
		}
	}
}
