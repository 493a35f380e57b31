package service_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqtt-relay/pkg/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	// Arrange: ":0" asks the kernel for a free port; Port() reports it.
	server := service.NewServer(zerolog.Nop(), ":0", nil)
	server.Mux().HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Act
	require.NoError(t, server.Start())

	port := server.Port()
	require.NotEqual(t, ":0", port)

	// Assert
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/ping", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(shutdownCtx))
}

func TestServer_MiddlewareWrapsAllRoutes(t *testing.T) {
	// Arrange
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Wrapped", "true")
			next.ServeHTTP(w, r)
		})
	}
	server := service.NewServer(zerolog.Nop(), ":0", wrap)
	server.Mux().HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, server.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	// Act
	resp, err := http.Get(fmt.Sprintf("http://localhost%s/ping", server.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Assert
	assert.Equal(t, "true", resp.Header.Get("X-Wrapped"))
}
