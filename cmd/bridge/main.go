package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-relay/pkg/api"
	"github.com/illmade-knight/go-mqtt-relay/pkg/config"
	"github.com/illmade-knight/go-mqtt-relay/pkg/mqttbroker"
	"github.com/illmade-knight/go-mqtt-relay/pkg/relay"
	"github.com/illmade-knight/go-mqtt-relay/pkg/service"
	"github.com/illmade-knight/go-mqtt-relay/pkg/uploads"
	"github.com/illmade-knight/go-mqtt-relay/pkg/wshub"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	logger.Info().
		Str("broker", cfg.BrokerURL).
		Str("topic", cfg.Topic).
		Str("port", cfg.HTTPPort).
		Msg("Bridge configuration loaded.")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mqttCfg := mqttbroker.LoadConfigFromEnv()
	mqttCfg.BrokerURL = cfg.BrokerURL
	mqttCfg.Topic = cfg.Topic

	conn, err := mqttbroker.NewConnection(mqttCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MQTT connection.")
	}

	hub := wshub.New(logger)

	relayService, err := relay.NewService(conn, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relay service.")
	}
	if err := relayService.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start relay service.")
	}

	store, err := uploads.NewStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise upload store.")
	}

	server := service.NewServer(logger, ":"+cfg.HTTPPort, api.CORS)
	handlers := api.NewHandlers(conn, store, cfg.Topic, cfg.MaxUploadBytes, logger)
	handlers.Register(server.Mux())
	server.Mux().Handle("/ws", hub)

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown did not complete cleanly.")
	}
	if err := relayService.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Relay service shutdown did not complete cleanly.")
	}
	hub.Close()
	logger.Info().Msg("Bridge stopped.")
}
