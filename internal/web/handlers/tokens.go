package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/harvestbin/silo/internal/auth"
)

// CreateToken generates an API token. The plaintext token appears only in
// this response.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.jsonError(w, "Token name required", http.StatusBadRequest)
		return
	}

	token, err := h.tokenService.Create(req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExists) {
			h.jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.jsonError(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]string{"name": req.Name, "token": token}, http.StatusCreated)
}

// ListTokens returns stored token names without their hashes.
func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokenService.List()
	if err != nil {
		h.jsonError(w, "Failed to list tokens", http.StatusInternalServerError)
		return
	}
	if tokens == nil {
		tokens = []auth.TokenInfo{}
	}
	h.jsonResponse(w, tokens, http.StatusOK)
}

// RevokeToken deletes the named token.
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokenService.Revoke(chi.URLParam(r, "name")); err != nil {
		h.jsonError(w, "Failed to revoke token", http.StatusInternalServerError)
		return
	}
	h.jsonSuccess(w, "revoked")
}
