package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oagudo/outboxsync/sqldb"
)

// Store reads pending entries from the outbox table and records the outcome of
// publish attempts. It is used by the Publisher, which is the only writer of
// processed_at and retry_count.
type Store struct {
	dbCtx *DBContext
}

// NewStore creates a new Store with the given database context.
func NewStore(dbCtx *DBContext) *Store {
	return &Store{dbCtx: dbCtx}
}

// FetchPending returns at most limit entries whose processed_at is null,
// oldest first. Entries sharing a created_at are ordered by id.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.dbCtx.db.QueryContext(ctx, s.dbCtx.buildSelectPendingQuery(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		var processedAt sql.NullTime
		if err := rows.Scan(
			&entry.ID,
			&entry.AggregateID,
			&entry.Type,
			&entry.Payload,
			&entry.CreatedAt,
			&processedAt,
			&entry.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		if processedAt.Valid {
			t := processedAt.Time
			entry.ProcessedAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox entries: %w", err)
	}

	return entries, nil
}

// SaveResults records the outcome of one publish cycle in a single transaction:
// published entries get processed_at = at, failed entries get their retry_count
// incremented by one. Either every update is applied or none is.
//
// On success the given entries are updated in place to mirror the stored rows.
func (s *Store) SaveResults(ctx context.Context, at time.Time, published, failed []*Entry) error {
	if len(published) == 0 && len(failed) == 0 {
		return nil
	}

	err := sqldb.WithTx(ctx, s.dbCtx.db, func(ctx context.Context, tx sqldb.TxQueryer) error {
		if len(published) > 0 {
			args := append([]any{at}, s.dbCtx.dialect.FormatIDs(entryIDs(published))...)
			_, err := tx.ExecContext(ctx, s.dbCtx.buildMarkProcessedQuery(len(published)), args...)
			if err != nil {
				return fmt.Errorf("marking %d entries processed: %w", len(published), err)
			}
		}

		if len(failed) > 0 {
			args := s.dbCtx.dialect.FormatIDs(entryIDs(failed))
			_, err := tx.ExecContext(ctx, s.dbCtx.buildIncrementRetryQuery(len(failed)), args...)
			if err != nil {
				return fmt.Errorf("incrementing retry count of %d entries: %w", len(failed), err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range published {
		processedAt := at
		entry.ProcessedAt = &processedAt
	}
	for _, entry := range failed {
		entry.RetryCount++
	}

	return nil
}

// PendingCount returns the number of entries awaiting publication.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	rows, err := s.dbCtx.db.QueryContext(ctx, s.dbCtx.buildCountPendingQuery())
	if err != nil {
		return 0, fmt.Errorf("counting pending entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scanning pending count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("counting pending entries: %w", err)
	}

	return count, nil
}

func entryIDs(entries []*Entry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return ids
}
