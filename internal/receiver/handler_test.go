package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/outboxsync/projection"
)

type fakeProjection struct {
	records []projection.Record
	err     error
}

func (f *fakeProjection) List(_ context.Context) ([]projection.Record, error) {
	return f.records, f.err
}

func (f *fakeProjection) Get(_ context.Context, id uuid.UUID) (projection.Record, error) {
	if f.err != nil {
		return projection.Record{}, f.err
	}
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return projection.Record{}, projection.ErrNotFound
}

func serve(h *Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListProjection(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProjection{records: []projection.Record{
		{ID: uuid.New(), Name: "newer", Value: 2, ReceivedAt: receivedAt.Add(time.Second)},
		{ID: uuid.New(), Name: "older", Value: 1, ReceivedAt: receivedAt},
	}}

	rec := serve(NewHandler(p, nil), "/api/entity-items-projection")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	require.Equal(t, "newer", items[0].Name)
	require.Equal(t, "older", items[1].Name)
	require.True(t, receivedAt.Equal(items[1].ReceivedAt))
}

func TestListEmptyProjection(t *testing.T) {
	rec := serve(NewHandler(&fakeProjection{}, nil), "/api/entity-items-projection")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetProjection(t *testing.T) {
	id := uuid.New()
	h := NewHandler(&fakeProjection{records: []projection.Record{{ID: id, Name: "widget", Value: 10}}}, nil)

	rec := serve(h, "/api/entity-items-projection/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var item Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, id, item.ID)
	require.Equal(t, "widget", item.Name)

	rec = serve(h, "/api/entity-items-projection/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, "/api/entity-items-projection/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectionStorageFailure(t *testing.T) {
	h := NewHandler(&fakeProjection{err: errors.New("database is down")}, nil)

	rec := serve(h, "/api/entity-items-projection")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(h, "/api/entity-items-projection/"+uuid.NewString())
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
