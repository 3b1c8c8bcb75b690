package outbox

import (
	"errors"
	"fmt"
)

// ErrInvalidLimit is returned by FetchPending when limit is not positive.
var ErrInvalidLimit = errors.New("outbox fetch limit must be positive")

// PersistenceError indicates that the store rejected a write. When returned by
// the Writer, neither the business changes nor the outbox entries were committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("outbox %s: %v", e.Op, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// PublishError indicates an error during entry publication.
// It includes the entry that failed to be published and the original error.
type PublishError struct {
	Entry Entry
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing entry %s: %v", e.Entry.ID, e.Err)
}
func (e *PublishError) Unwrap() error { return e.Err }

// UpdateError indicates an error when saving the outcome of a publish cycle.
// None of the listed entries were updated; they are published again next cycle.
type UpdateError struct {
	Entries []Entry
	Err     error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("updating %d entries: %v", len(e.Entries), e.Err)
}
func (e *UpdateError) Unwrap() error { return e.Err }

// ReadError indicates an error when reading entries from the outbox.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return fmt.Sprintf("reading outbox entries: %v", e.Err) }

func (e *ReadError) Unwrap() error { return e.Err }
