// Path: pkg/api/types.go
package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	MQTT   string `json:"mqtt"`
}

type publishRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type publishResponse struct {
	Success bool   `json:"success"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type actionResponse struct {
	Success  bool   `json:"success"`
	Action   string `json:"action"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
