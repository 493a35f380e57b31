package mqttbroker

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all necessary configuration for the Paho MQTT client.
// It defines connection parameters, security settings, and the single topic
// the bridge subscribes to and publishes action messages on.
type Config struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tcp://broker.hivemq.com:1883"
	BrokerURL string
	// Topic is the topic the bridge subscribes to. Action messages are
	// published on the same topic.
	Topic string
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax is the maximum time to wait between reconnect attempts.
	ReconnectWaitMax time.Duration
	// PublishTimeout bounds how long a Publish call waits for the broker's acknowledgment.
	PublishTimeout time.Duration
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Env constants for MQTT operational settings.
const (
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// LoadConfigFromEnv loads MQTT operational configuration from environment
// variables, populating timeouts and keep-alive intervals with sensible
// defaults if the variables are not set.
// Note: BrokerURL and Topic are application-level settings and are configured
// programmatically from the app config, not here.
func LoadConfigFromEnv() *Config {

	cfg := &Config{
		KeepAlive:        60 * time.Second,  // Default
		ConnectTimeout:   10 * time.Second,  // Default
		ReconnectWaitMax: 120 * time.Second, // Default
		PublishTimeout:   10 * time.Second,  // Default
		ClientIDPrefix:   "kiosk-bridge-",
		Username:         os.Getenv(MqttUsername),
		Password:         os.Getenv(MqttPassword),
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	// Parse durations if set in env, otherwise use defaults
	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqttbroker: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqttbroker: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}
