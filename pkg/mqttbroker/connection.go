package mqttbroker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-relay/pkg/relay"
)

// ErrNotConnected is returned by Publish when the broker connection is not
// currently established. Callers surface it to the producer; the connection
// itself stays alive and the Paho client keeps reconnecting in the background.
var ErrNotConnected = errors.New("mqtt broker connection not established")

// Connection owns the long-lived Paho client. It implements both
// relay.BrokerConsumer (inbound subscription) and relay.Publisher (outbound
// publishes from the ingress API).
type Connection struct {
	pahoClient mqtt.Client
	logger     zerolog.Logger
	outputChan chan relay.BrokerMessage
	doneChan   chan struct{}
	cfg        *Config
	stopOnce   sync.Once

	// mu guards closed so an in-flight Paho handler never races the
	// channel close in Stop.
	mu     sync.RWMutex
	closed bool
}

// NewConnection creates a new Connection. It does not connect until Start is called.
func NewConnection(cfg *Config, logger zerolog.Logger) (*Connection, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("MQTT subscribe topic is required")
	}
	return &Connection{
		logger:     logger.With().Str("component", "MQTTConnection").Logger(),
		outputChan: make(chan relay.BrokerMessage, 1000),
		doneChan:   make(chan struct{}),
		cfg:        cfg,
	}, nil
}

// Messages returns the read-only channel of inbound broker messages.
func (c *Connection) Messages() <-chan relay.BrokerMessage {
	return c.outputChan
}

// Start launches the connection logic and begins consuming messages.
func (c *Connection) Start(ctx context.Context) error {
	opts := c.createMqttOptions(ctx)
	c.pahoClient = mqtt.NewClient(opts)

	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Attempting to connect to MQTT broker...")
	if token := c.pahoClient.Connect(); token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else if token.Error() == nil {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
	}

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring connection is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop gracefully ceases message consumption and disconnects from the broker.
func (c *Connection) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MQTT connection...")
		if c.pahoClient != nil && c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.cfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("Failed to unsubscribe from MQTT topic.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		c.mu.Lock()
		c.closed = true
		close(c.outputChan)
		c.mu.Unlock()
		close(c.doneChan)
		c.logger.Info().Msg("MQTT connection stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the connection has fully stopped.
func (c *Connection) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying Paho client.
// The health endpoint reports this directly.
func (c *Connection) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}

// Publish sends a payload to the given topic at QoS 1 and waits for the
// broker's acknowledgment. It is safe for concurrent use by multiple in-flight
// HTTP requests; the Paho client serializes writes internally and each call
// waits on its own token. No retries are performed, the producer must resubmit.
func (c *Connection) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.pahoClient.Publish(topic, 1, false, payload)

	timeout := c.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out waiting for publish acknowledgment on %s", topic)
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("broker rejected publish on %s: %w", topic, err)
		}
	}
	return nil
}

// GetMessageHandlerForTest returns the internal message handler for unit testing.
func (c *Connection) GetMessageHandlerForTest(ctx context.Context) mqtt.MessageHandler {
	return c.handleIncomingMessage(ctx)
}

// handleIncomingMessage is the callback that converts inbound MQTT messages to
// the relay's canonical format. Each message is pushed to the output channel
// exactly once; the fan-out stage consumes from there.
func (c *Connection) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message")
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		received := relay.BrokerMessage{
			Topic:      msg.Topic(),
			Payload:    payloadCopy,
			Duplicate:  msg.Duplicate(),
			ReceivedAt: time.Now().UTC(),
		}

		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Connection is stopped, dropping MQTT message.")
			return
		}
		select {
		case c.outputChan <- received:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Connection is shutting down, dropping MQTT message.")
		}
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (c *Connection) createMqttOptions(ctx context.Context) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", c.cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	// Sessions must observe broker order, so handler invocations stay ordered.
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(c.handleIncomingMessage(ctx))

	// Paho does not replay client.Subscribe calls after a clean-session
	// reconnect, so the subscription is issued from the OnConnect handler,
	// which runs again on every reconnect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
		token := client.Subscribe(c.cfg.Topic, 1, nil) // Subscribe with QoS 1
		go func() {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				c.logger.Error().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("Failed to subscribe to MQTT topic.")
			} else {
				c.logger.Info().Str("topic", c.cfg.Topic).Msg("Successfully subscribed to MQTT topic.")
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(c.cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(c.cfg)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			c.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
