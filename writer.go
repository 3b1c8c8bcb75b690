package outbox

import (
	"context"
	"errors"

	"github.com/oagudo/outboxsync/sqldb"
)

// TxQueryer represents a query executor inside a transaction.
type TxQueryer = sqldb.TxQueryer

// Writer handles storing entries in the outbox table as part of user-defined queries
// within a database transaction.
type Writer struct {
	dbCtx           *DBContext
	unmanagedWriter *UnmanagedWriter
}

// UnmanagedWriter provides low-level access to outbox table persistence
//
// Unlike Writer, UnmanagedWriter does not start, commit, or rollback
// transactions. It is intended for users who want to manage the transaction
// lifecycle themselves and only need to persist outbox entries.
//
// An UnmanagedWriter must be obtained via Writer.Unmanaged() function.
type UnmanagedWriter struct {
	dbCtx *DBContext
}

// TxWorkFunc is the user supplied callback for [Writer.WriteOne].
// It executes user defined queries within the same transaction that stores the given outbox entry.
// The Writer commits or rolls back the transaction once the callback completes.
type TxWorkFunc func(ctx context.Context, tx TxQueryer) error

// OutboxWorkFunc is the user supplied callback for [Writer.Write].
// It executes user defined queries and stores entries in the outbox table within the same transaction.
// The Writer commits or rolls back the transaction once the callback completes.
type OutboxWorkFunc func(ctx context.Context, tx TxQueryer, entryWriter EntryWriter) error

// EntryWriter allows storing entries within a managed transaction.
type EntryWriter interface {
	// Store persists an entry in the outbox table.
	// The entry is committed when the enclosing transaction commits.
	Store(ctx context.Context, entry *Entry) error
}

// NewWriter creates a new outbox Writer with the given database context.
func NewWriter(dbCtx *DBContext) *Writer {
	return &Writer{
		dbCtx:           dbCtx,
		unmanagedWriter: &UnmanagedWriter{dbCtx: dbCtx},
	}
}

// Write executes user defined queries and stores entries in the outbox table within the same managed transaction.
//
// The transaction commits if the callback returns nil, or rolls back if it
// returns an error or panics. Entries are committed atomically with your database changes.
//
// Errors returned by the callback are passed through unchanged. Failures to begin
// or commit the transaction, or to store an entry, are returned as *PersistenceError.
//
// Example:
//
//	err := writer.Write(ctx, func(ctx context.Context, tx outbox.TxQueryer, entryWriter outbox.EntryWriter) error {
//	    _, err := tx.ExecContext(ctx, "INSERT INTO entity_items (id, name) VALUES ($1, $2)", item.ID, item.Name)
//	    if err != nil {
//	        return err
//	    }
//	    return entryWriter.Store(ctx, outbox.NewEntry(item.ID.String(), "EntityItemCreated", payload))
//	})
func (w *Writer) Write(ctx context.Context, fn OutboxWorkFunc) error {
	tx, err := w.dbCtx.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "beginning transaction", Err: err}
	}

	var txCommitted bool
	defer func() {
		if !txCommitted {
			_ = tx.Rollback()
		}
	}()

	entryWriter := &entryWriter{
		dbCtx: w.dbCtx,
		tx:    tx,
	}

	err = fn(ctx, tx, entryWriter)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return &PersistenceError{Op: "committing transaction", Err: err}
	}
	txCommitted = true

	return nil
}

// WriteOne executes the provided callback and stores an entry in the outbox table
// as part of a managed transaction. This is the enqueue operation: the business
// write done by fn and the outbox insert either both commit or both roll back.
//
// Any failure, including one returned by fn, is reported as *PersistenceError.
// For conditional or multiple entries use [Writer.Write] instead.
func (w *Writer) WriteOne(ctx context.Context, entry *Entry, fn TxWorkFunc) error {
	return w.Write(ctx, func(ctx context.Context, tx TxQueryer, entryWriter EntryWriter) error {
		err := fn(ctx, tx)
		if err != nil {
			var persistenceErr *PersistenceError
			if errors.As(err, &persistenceErr) {
				return err
			}
			return &PersistenceError{Op: "executing transaction work", Err: err}
		}

		return entryWriter.Store(ctx, entry)
	})
}

// Unmanaged returns an UnmanagedWriter that does not manage the transaction lifecycle.
func (w *Writer) Unmanaged() *UnmanagedWriter {
	return w.unmanagedWriter
}

// Store persists an entry into the outbox table using a user provided transaction.
//
// Store only writes the entry if the provided transaction is committed successfully.
// It is the responsibility of the user to commit or rollback the transaction.
func (w *UnmanagedWriter) Store(ctx context.Context, tx TxQueryer, entry *Entry) error {
	return insertEntry(ctx, w.dbCtx, tx, entry)
}

type entryWriter struct {
	dbCtx *DBContext
	tx    TxQueryer
}

func (w *entryWriter) Store(ctx context.Context, entry *Entry) error {
	return insertEntry(ctx, w.dbCtx, w.tx, entry)
}

func insertEntry(ctx context.Context, dbCtx *DBContext, tx TxQueryer, entry *Entry) error {
	_, err := tx.ExecContext(ctx, dbCtx.buildInsertQuery(),
		dbCtx.dialect.FormatID(entry.ID),
		entry.AggregateID,
		entry.Type,
		entry.Payload,
		entry.CreatedAt,
		nil,
		0,
	)
	if err != nil {
		return &PersistenceError{Op: "storing entry", Err: err}
	}
	return nil
}
