package memory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/recall/internal/api"
)

// Handler handles memory HTTP endpoints.
type Handler struct {
	mgr      *Manager
	validate *validator.Validate
}

// NewHandler creates a new memory handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{
		mgr:      mgr,
		validate: validator.New(),
	}
}

// List returns the user's recent memories, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 || v > h.mgr.Config().MaxResults {
			api.HandleError(w, api.NewBadRequestError("limit must be between 1 and "+strconv.Itoa(h.mgr.Config().MaxResults)))
			return
		}
		limit = v
	}

	records, err := h.mgr.RetrieveMemories(r.Context(), userID, limit)
	if err != nil {
		h.handleError(w, "retrieving memories", err)
		return
	}

	api.JSON(w, http.StatusOK, records)
}

// Create stores a new exchange for the user.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req StoreMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	rec, err := h.mgr.StoreMemory(r.Context(), userID, req.Context)
	if err != nil {
		h.handleError(w, "storing memory", err)
		return
	}

	api.JSON(w, http.StatusCreated, rec)
}

// Search returns the user's memories most similar to a query text.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req SearchMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	results, err := h.mgr.FindSimilarMemories(r.Context(), userID, req.Query, req.Limit)
	if err != nil {
		h.handleError(w, "searching memories", err)
		return
	}

	api.JSON(w, http.StatusOK, results)
}

func (h *Handler) handleError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrInvalidArguments) {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}
	slog.Error(op, "error", err)
	api.HandleError(w, api.ErrInternalServer)
}
