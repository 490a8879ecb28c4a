// Package handlers implements the HTTP surface. Every JSON body carries the
// envelope fields request_id and server_time.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/api/middleware"
	"github.com/ubl-proto/ubl/internal/app"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	app *app.App
	log zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(a *app.App, log zerolog.Logger) *Handler {
	return &Handler{app: a, log: log}
}

// JSON sends a JSON response with the envelope fields added.
func (h *Handler) JSON(w http.ResponseWriter, r *http.Request, status int, data map[string]any) {
	data["request_id"] = middleware.GetRequestID(r.Context())
	data["server_time"] = time.Now().UTC().Format(time.RFC3339Nano)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a tagged error as JSON, mapping its kind to an HTTP status.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	ue := ublerr.Wrap(err)
	if ue.Kind == ublerr.Internal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	body := map[string]any{
		"error":   string(ue.Kind),
		"message": ue.Message,
	}
	if len(ue.Data) > 0 {
		body["data"] = ue.Data
	}
	h.JSON(w, r, ue.HTTPStatus(), body)
}

// caller returns the verified identity and request id for a request. The
// identity middleware guarantees both are present on protected routes.
func (h *Handler) caller(r *http.Request) (models.Identity, string) {
	identity, _ := middleware.GetIdentity(r.Context())
	return identity, middleware.GetRequestID(r.Context())
}

// decode reads a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ublerr.New(ublerr.ValidationError, "invalid JSON body")
	}
	return nil
}
