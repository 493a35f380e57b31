package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the application-level settings for the bridge, sourced from the
// environment with defaults matching the original deployment.
type Config struct {
	// BrokerURL is the MQTT broker endpoint. The default is a public test broker.
	BrokerURL string `env:"MQTT_BROKER" envDefault:"tcp://broker.hivemq.com:1883"`
	// Topic is the single topic the bridge subscribes to and publishes action
	// messages on.
	Topic string `env:"MQTT_TOPIC" envDefault:"goapp/messages"`
	// HTTPPort is the listening port for the HTTP and WebSocket surface.
	HTTPPort string `env:"PORT" envDefault:"3001"`
	// UploadDir is where attachments are persisted.
	UploadDir string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	// MaxUploadBytes caps a single attachment. Defaults to 10 MiB.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
}

// Load parses the environment into a Config, applying defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return cfg, nil
}
