package sender

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/oagudo/outboxsync/internal/httpserver"
)

// Items is the storage the handlers work on.
type Items interface {
	Create(ctx context.Context, name string, value float64) (EntityItem, error)
	List(ctx context.Context) ([]EntityItem, error)
	Get(ctx context.Context, id uuid.UUID) (EntityItem, error)
}

// CreateRequest is the body of POST /api/entity-items.
type CreateRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Handler serves the entity item API.
type Handler struct {
	items  Items
	logger *slog.Logger
}

// NewHandler returns a Handler. A nil logger discards logs.
func NewHandler(items Items, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{items: items, logger: logger}
}

// Routes returns the API routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/entity-items", h.create)
	mux.HandleFunc("GET /api/entity-items", h.list)
	mux.HandleFunc("GET /api/entity-items/{id}", h.get)
	return mux
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	item, err := h.items.Create(r.Context(), req.Name, req.Value)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create entity item", "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to create entity item")
		return
	}

	h.logger.InfoContext(r.Context(), "entity item created", "aggregate_id", item.ID)

	w.Header().Set("Location", "/api/entity-items/"+item.ID.String())
	httpserver.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list entity items", "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to list entity items")
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpserver.WriteError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}

	item, err := h.items.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpserver.WriteError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get entity item", "aggregate_id", id, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to get entity item")
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, item)
}
