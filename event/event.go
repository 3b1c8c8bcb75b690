// Package event defines the events exchanged between the sender and the
// receiver services and decodes inbound messages by their subject.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeEntityItemCreated tags an EntityItemCreated event.
const TypeEntityItemCreated = "EntityItemCreated"

// Event is implemented by every decoded message. Use a type switch to dispatch:
//
//	switch e := ev.(type) {
//	case event.EntityItemCreated:
//	case event.Unknown:
//	}
type Event interface {
	// Type returns the event-type tag carried as the message subject.
	Type() string
}

// EntityItemCreated announces an entity item, either new or with changed values.
type EntityItemCreated struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

func (EntityItemCreated) Type() string { return TypeEntityItemCreated }

// Unknown is returned for subjects no decoder is registered for.
type Unknown struct {
	Subject string
}

func (u Unknown) Type() string { return u.Subject }

// MalformedMessageError is returned when a recognized subject carries a body
// that cannot be decoded.
type MalformedMessageError struct {
	Subject string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed %s message: %v", e.Subject, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

var errMissingID = errors.New("missing id")

// Decode decodes body according to subject. Unrecognized subjects yield an
// Unknown event and no error; undecodable bodies yield a *MalformedMessageError.
func Decode(subject string, body []byte) (Event, error) {
	switch subject {
	case TypeEntityItemCreated:
		var e EntityItemCreated
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, &MalformedMessageError{Subject: subject, Err: err}
		}
		if e.ID == uuid.Nil {
			return nil, &MalformedMessageError{Subject: subject, Err: errMissingID}
		}
		return e, nil

	default:
		return Unknown{Subject: subject}, nil
	}
}

// Encode returns the subject and JSON body for e.
func Encode(e Event) (string, []byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s: %w", e.Type(), err)
	}
	return e.Type(), body, nil
}
