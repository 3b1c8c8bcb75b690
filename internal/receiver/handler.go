// Package receiver implements the read API of the receiver service over the
// entity item projection.
package receiver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oagudo/outboxsync/internal/httpserver"
	"github.com/oagudo/outboxsync/projection"
)

// Projection is the read side the handlers serve.
type Projection interface {
	List(ctx context.Context) ([]projection.Record, error)
	Get(ctx context.Context, id uuid.UUID) (projection.Record, error)
}

// Item is the JSON form of a projection record.
type Item struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
	ReceivedAt time.Time `json:"received_at"`
}

func toItem(rec projection.Record) Item {
	return Item{
		ID:         rec.ID,
		Name:       rec.Name,
		Value:      rec.Value,
		CreatedAt:  rec.CreatedAt,
		ReceivedAt: rec.ReceivedAt,
	}
}

// Handler serves the projection API.
type Handler struct {
	projection Projection
	logger     *slog.Logger
}

// NewHandler returns a Handler. A nil logger discards logs.
func NewHandler(p Projection, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{projection: p, logger: logger}
}

// Routes returns the API routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/entity-items-projection", h.list)
	mux.HandleFunc("GET /api/entity-items-projection/{id}", h.get)
	return mux
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.projection.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list projection", "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to list entity items")
		return
	}

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, toItem(rec))
	}

	httpserver.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpserver.WriteError(w, http.StatusNotFound, projection.ErrNotFound.Error())
		return
	}

	rec, err := h.projection.Get(r.Context(), id)
	if errors.Is(err, projection.ErrNotFound) {
		httpserver.WriteError(w, http.StatusNotFound, projection.ErrNotFound.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get projection record", "aggregate_id", id, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "failed to get entity item")
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, toItem(rec))
}
