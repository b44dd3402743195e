package conversation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/recall/internal/api"
)

// SendMessageRequest is the body of POST /users/{userID}/messages.
type SendMessageRequest struct {
	Body string `json:"body" validate:"required,max=8192"`
}

// SendMessageResponse carries the assistant reply.
type SendMessageResponse struct {
	Reply string `json:"reply"`
}

// Handler handles conversation HTTP endpoints.
type Handler struct {
	mgr      *Manager
	validate *validator.Validate
}

// NewHandler creates a new conversation handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{
		mgr:      mgr,
		validate: validator.New(),
	}
}

// Send runs one turn synchronously and returns the reply.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	reply, err := h.mgr.HandleMessage(r.Context(), userID, req.Body)
	if err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
		slog.Error("handling message", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, SendMessageResponse{Reply: reply})
}

// GetContext returns the user's live context.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	c, err := h.mgr.Snapshot(r.Context(), userID)
	if err != nil {
		slog.Error("loading context", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if c == nil {
		api.HandleError(w, api.NewNotFoundError("no conversation for user"))
		return
	}

	api.JSON(w, http.StatusOK, c)
}

// ResetContext drops the user's live context.
func (h *Handler) ResetContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := h.mgr.Reset(r.Context(), userID); err != nil {
		slog.Error("resetting context", "user_id", userID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
