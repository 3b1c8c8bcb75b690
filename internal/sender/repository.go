// Package sender implements the entity item API of the sender service. Every
// created item is announced through the outbox in the same transaction.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	outbox "github.com/oagudo/outboxsync"
	"github.com/oagudo/outboxsync/event"
	"github.com/oagudo/outboxsync/sqldb"
)

// ErrNotFound is returned by Get when no item exists for the id.
var ErrNotFound = errors.New("entity item not found")

const itemColumns = "id, name, value, created_at"

// EntityItem is the business entity owned by the sender service.
type EntityItem struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores entity items in the entity_items table.
type Repository struct {
	db      sqldb.DB
	dialect sqldb.SQLDialect
	writer  *outbox.Writer
	now     func() time.Time
}

// RepositoryOption is a function that configures a Repository instance.
type RepositoryOption func(*Repository)

// WithNow sets the clock used for creation times.
func WithNow(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository creates a Repository on the database of dbCtx, which must also
// hold the outbox table.
func NewRepository(dbCtx *outbox.DBContext, opts ...RepositoryOption) *Repository {
	r := &Repository{
		db:      dbCtx.DB(),
		dialect: dbCtx.Dialect(),
		writer:  outbox.NewWriter(dbCtx),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Create inserts a new item and enqueues its EntityItemCreated event. Both
// writes commit together or not at all.
func (r *Repository) Create(ctx context.Context, name string, value float64) (EntityItem, error) {
	item := EntityItem{
		ID:        uuid.New(),
		Name:      name,
		Value:     value,
		CreatedAt: r.now().UTC(),
	}

	entry, err := outbox.NewEntryJSON(item.ID.String(), event.TypeEntityItemCreated, event.EntityItemCreated{
		ID:        item.ID,
		Name:      item.Name,
		Value:     item.Value,
		CreatedAt: item.CreatedAt,
	}, outbox.WithCreatedAt(item.CreatedAt))
	if err != nil {
		return EntityItem{}, err
	}

	query, args, err := r.dialect.Builder().
		Insert("entity_items").
		Columns(itemColumns).
		Values(r.dialect.FormatID(item.ID), item.Name, item.Value, item.CreatedAt).
		ToSql()
	if err != nil {
		return EntityItem{}, fmt.Errorf("building insert query: %w", err)
	}

	err = r.writer.WriteOne(ctx, entry, func(ctx context.Context, tx outbox.TxQueryer) error {
		_, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("inserting entity item %s: %w", item.ID, err)
		}
		return nil
	})
	if err != nil {
		return EntityItem{}, err
	}

	return item, nil
}

// List returns every item, newest first.
func (r *Repository) List(ctx context.Context) ([]EntityItem, error) {
	query, args, err := r.dialect.Builder().
		Select(itemColumns).
		From("entity_items").
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	return r.query(ctx, query, args...)
}

// Get returns the item with the given id or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (EntityItem, error) {
	query, args, err := r.dialect.Builder().
		Select(itemColumns).
		From("entity_items").
		Where("id = ?", r.dialect.FormatID(id)).
		ToSql()
	if err != nil {
		return EntityItem{}, fmt.Errorf("building get query: %w", err)
	}

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return EntityItem{}, err
	}
	if len(items) == 0 {
		return EntityItem{}, ErrNotFound
	}

	return items[0], nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]EntityItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entity items: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	items := make([]EntityItem, 0)
	for rows.Next() {
		var item EntityItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Value, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity items: %w", err)
	}

	return items, nil
}
