package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/auth"
	"github.com/harvestbin/silo/internal/store"
	"github.com/harvestbin/silo/internal/web/middleware"
	"github.com/harvestbin/silo/internal/web/sse"
)

// VersionInfo holds application version information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	tokenService *auth.TokenService
	sseBroker    *sse.Broker
	versionInfo  VersionInfo
}

// New creates a new Handlers instance
func New(tokens *auth.TokenService, broker *sse.Broker) *Handlers {
	return &Handlers{
		tokenService: tokens,
		sseBroker:    broker,
	}
}

// SetVersionInfo sets the application version information
func (h *Handlers) SetVersionInfo(version, commit, date string) {
	h.versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// Health reports server liveness and the connected client count.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status":        "ok",
		"version":       h.versionInfo.Version,
		"event_clients": h.sseBroker.ClientCount(),
	}, http.StatusOK)
}

// storeFrom fetches the injected store proxy, failing the request when the
// injection middleware is not mounted.
func (h *Handlers) storeFrom(w http.ResponseWriter, r *http.Request) *store.Store {
	s := middleware.StoreFrom(r.Context())
	if s == nil {
		log.Error().Str("path", r.URL.Path).Msg("Store not injected into request context")
		h.jsonError(w, "Store unavailable", http.StatusInternalServerError)
	}
	return s
}

// jsonResponse sends a JSON response
func (h *Handlers) jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]string{"error": message}, status)
}

// jsonSuccess sends a JSON success response
func (h *Handlers) jsonSuccess(w http.ResponseWriter, message string) {
	h.jsonResponse(w, map[string]string{"status": message}, http.StatusOK)
}

// storeError maps store errors onto HTTP statuses.
func (h *Handlers) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTableNotFound), errors.Is(err, store.ErrRecordNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrFieldNotDeclared), errors.Is(err, store.ErrMissingKey):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("Store operation failed")
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}
