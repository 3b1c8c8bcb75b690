package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryOption is a function that can be used to configure an Entry.
type EntryOption func(*Entry)

// Entry is a row of the outbox table. It announces a change to one business
// entity and is written in the same transaction as that change.
type Entry struct {
	// ID is a unique identifier for the entry, also used as the broker message id.
	ID uuid.UUID

	// AggregateID is the string form of the id of the entity the entry describes.
	AggregateID string

	// Type is the event-type tag, sent as the message subject.
	Type string

	// Payload contains the serialized event, typically JSON.
	Payload []byte

	// CreatedAt is the timestamp when the entry was created.
	CreatedAt time.Time

	// ProcessedAt is set once the entry has been published. Nil means pending.
	ProcessedAt *time.Time

	// RetryCount is the number of failed publish attempts.
	// Read only field
	RetryCount int32
}

// Pending reports whether the entry still awaits publication.
func (e *Entry) Pending() bool {
	return e.ProcessedAt == nil
}

// WithID sets the unique identifier of the entry.
// If not provided, a new UUID will be generated.
func WithID(id uuid.UUID) EntryOption {
	return func(e *Entry) {
		e.ID = id
	}
}

// WithCreatedAt sets the time the entry was created.
// If not provided, the current time will be used.
func WithCreatedAt(createdAt time.Time) EntryOption {
	return func(e *Entry) {
		e.CreatedAt = createdAt
	}
}

// NewEntry creates a new pending Entry.
func NewEntry(aggregateID, eventType string, payload []byte, opts ...EntryOption) *Entry {
	e := &Entry{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewEntryJSON creates a new pending Entry whose payload is v encoded as JSON.
func NewEntryJSON(aggregateID, eventType string, v any, opts ...EntryOption) (*Entry, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	return NewEntry(aggregateID, eventType, payload, opts...), nil
}
