package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/sessions/be/service"
	"github.com/agencyhub/agencyhub/platform/go/tenant"
)

// Handler exposes tenant-scoped session endpoints. Every route expects the
// tenant-selection middleware to have attached a Space to the context.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("sessions service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the session endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Post("/sessions/validate", h.Validate)
	r.Delete("/sessions", h.Revoke)
}

type createSessionRequest struct {
	UserID uuid.UUID `json:"userId"`
	Token  string    `json:"token"`
}

// Create implements POST /sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil || req.Token == "" {
		http.Error(w, "userId and token are required", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Create(r.Context(), space.DatabaseName, service.CreateInput{
		UserID:    req.UserID,
		Token:     req.Token,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("session creation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": rec.ID,
		"expiresAt": rec.ExpiresAt,
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// Validate implements POST /sessions/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Validate(r.Context(), space.DatabaseName, req.Token)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"valid":          true,
			"userId":         rec.UserID,
			"lastActivityAt": rec.LastActivityAt,
			"expiresAt":      rec.ExpiresAt,
		})
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionExpired),
		errors.Is(err, service.ErrSessionRevoked):
		h.writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
	default:
		h.logger.Error("session validation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Revoke implements DELETE /sessions (logout).
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		http.Error(w, "tenant required", http.StatusUnauthorized)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.Revoke(r.Context(), space.DatabaseName, req.Token); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("session revocation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response encoding failed", zap.Error(err))
	}
}
