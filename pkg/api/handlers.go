// Path: pkg/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-relay/pkg/uploads"
)

// Broker defines the interface the ingress requires from the broker
// connection. This keeps the delivery layer decoupled from the full
// connection implementation.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

// ActionMessage is the payload published for every /api/action/{id} request.
// It is composed at publish time and never mutated afterwards.
type ActionMessage struct {
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Handlers holds dependencies for the ingress HTTP handlers.
type Handlers struct {
	broker         Broker
	store          *uploads.Store
	topic          string
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewHandlers creates the ingress handler set. All action messages publish to
// the single fixed topic regardless of the action id; only the generic
// publish endpoint accepts a caller-supplied topic.
func NewHandlers(broker Broker, store *uploads.Store, topic string, maxUploadBytes int64, logger zerolog.Logger) *Handlers {
	return &Handlers{
		broker:         broker,
		store:          store,
		topic:          topic,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With().Str("component", "IngressAPI").Logger(),
	}
}

// Register attaches all ingress routes to the mux, including static retrieval
// of stored attachments.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("POST /api/mqtt/publish", h.Publish)
	mux.HandleFunc("POST /api/action/{id}", h.Action)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.store.Dir()))))
}

// Health reports current broker connectivity.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	mqttState := "disconnected"
	if h.broker.IsConnected() {
		mqttState = "connected"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", MQTT: mqttState})
}

// Publish forwards a caller-supplied topic/message pair to the broker.
func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Topic == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Topic and message are required")
		return
	}

	if err := h.broker.Publish(r.Context(), req.Topic, []byte(req.Message)); err != nil {
		h.logger.Error().Err(err).Str("topic", req.Topic).Msg("Publish failed.")
		writeError(w, http.StatusInternalServerError, "Failed to publish message")
		return
	}

	h.logger.Info().Str("topic", req.Topic).Msg("Published message.")
	writeJSON(w, http.StatusOK, publishResponse{Success: true, Topic: req.Topic, Message: req.Message})
}

// Action composes an ActionMessage from the request body and publishes it on
// the fixed configured topic. The melden action additionally accepts a
// multipart form with an optional photo attachment.
func (h *Handlers) Action(w http.ResponseWriter, r *http.Request) {
	actionID := r.PathValue("id")

	if actionID == "melden" && isMultipart(r) {
		h.meldenMultipart(w, r)
		return
	}

	data := map[string]any{}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}

	if err := h.publishAction(r, actionID, data); err != nil {
		h.logger.Error().Err(err).Str("action", actionID).Msg("Failed to publish action message.")
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Success: true, Action: actionID})
}

// meldenMultipart handles the kiosk incident form: text fields become the
// action data, and the optional photo is validated and stored before the
// message is published. Validation failures reject the request before any
// bytes are persisted or published.
func (h *Handlers) meldenMultipart(w http.ResponseWriter, r *http.Request) {
	// Head-room over the file cap covers the text fields and part framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+512*1024)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Upload exceeds the maximum size or the form is malformed")
		return
	}

	data := map[string]any{}
	for field, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			data[field] = values[0]
		}
	}

	var photoURL string
	file, header, err := r.FormFile("photo")
	switch {
	case err == nil:
		defer file.Close()
		if header.Size > h.maxUploadBytes {
			writeError(w, http.StatusBadRequest, "File exceeds the maximum upload size")
			return
		}
		if err := uploads.ValidateImage(header.Filename, header.Header.Get("Content-Type")); err != nil {
			h.logger.Warn().Err(err).Str("filename", header.Filename).Msg("Rejected attachment.")
			writeError(w, http.StatusBadRequest, "Only image files are allowed")
			return
		}
		att, err := h.store.Save(file, header.Filename)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to store attachment.")
			writeError(w, http.StatusInternalServerError, "Failed to store attachment")
			return
		}
		data["photoUrl"] = att.URL
		data["photoFilename"] = att.Filename
		photoURL = att.URL
	case errors.Is(err, http.ErrMissingFile):
		// No photo attached; the form is still valid.
	default:
		writeError(w, http.StatusBadRequest, "Invalid photo field")
		return
	}

	if err := h.publishAction(r, "melden", data); err != nil {
		h.logger.Error().Err(err).Str("action", "melden").Msg("Failed to publish action message.")
		writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Success: true, Action: "melden", PhotoURL: photoURL})
}

// publishAction serializes the ActionMessage and publishes it on the fixed topic.
func (h *Handlers) publishAction(r *http.Request, actionID string, data map[string]any) error {
	msg := ActionMessage{
		Action:    actionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := h.broker.Publish(r.Context(), h.topic, payload); err != nil {
		return err
	}
	h.logger.Info().Str("action", actionID).Str("topic", h.topic).Msg("Published action message.")
	return nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
