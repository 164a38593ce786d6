package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type EventType string

// Session-scoped events are delivered to members of the session's room.
const (
	EventItemAdded      EventType = "itemAdded"
	EventItemUpdated    EventType = "itemUpdated"
	EventItemDeleted    EventType = "itemDeleted"
	EventItemsReordered EventType = "itemsReordered"
	EventNoteAdded      EventType = "noteAdded"
	EventNoteClosed     EventType = "noteClosed"
	EventSessionUpdated EventType = "sessionUpdated"
	EventSessionDeleted EventType = "sessionDeleted"
	EventTimerUpdate    EventType = "timerUpdate"
)

// Global events reach every connected client.
const (
	EventActiveSessionChanged EventType = "activeSessionChanged"
	EventSessionListChanged   EventType = "sessionListChanged"
)

// Event is a change notification. Data carries the affected entity by value.
// SessionID is uuid.Nil for global events. Origin names the realtime client
// that caused the event; that client does not receive it back.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID uuid.UUID       `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

func (e Event) Global() bool {
	return e.SessionID == uuid.Nil
}

// NewEvent marshals data into an event.
func NewEvent(t EventType, sessionID uuid.UUID, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, SessionID: sessionID, Data: raw}, nil
}

// EventPublisher hands events to the realtime layer. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
