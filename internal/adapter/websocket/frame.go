package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
)

// Frame is the JSON envelope exchanged in both directions. SessionID is absent
// for global events.
type Frame struct {
	Type      string          `json:"type"`
	SessionID *uuid.UUID      `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client-to-server message types.
const (
	MsgJoinSession  = "joinSession"
	MsgLeaveSession = "leaveSession"
	MsgTimerStart   = "timerStart"
	MsgTimerStop    = "timerStop"
)

// Server-to-client control message types. Change events use their
// domain.EventType as frame type.
const (
	MsgJoined = "joined"
	MsgLeft   = "left"
	MsgError  = "error"
)

// TimerStart is the payload of a timerStart message. Remaining defaults to
// Duration. Item is relayed verbatim.
type TimerStart struct {
	Duration  int             `json:"duration"`
	Remaining *int            `json:"remaining,omitempty"`
	Item      json.RawMessage `json:"item,omitempty"`
}

// TimerUpdate is the payload of the relayed timerUpdate event. Duration and
// Remaining are always encoded; a start with 0 remaining is an expired timer.
type TimerUpdate struct {
	Type      string          `json:"type"` // "start" or "stop"
	Duration  int             `json:"duration"`
	Remaining int             `json:"remaining"`
	Item      json.RawMessage `json:"item,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func eventFrame(event domain.Event) ([]byte, error) {
	f := Frame{Type: string(event.Type), Data: event.Data}
	if !event.Global() {
		id := event.SessionID
		f.SessionID = &id
	}
	return marshalFrame(f)
}

func controlFrame(msgType string, sessionID *uuid.UUID, data any) ([]byte, error) {
	f := Frame{Type: msgType, SessionID: sessionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		f.Data = raw
	}
	return marshalFrame(f)
}

func errorFrame(message string) []byte {
	// errorPayload always marshals.
	msg, _ := controlFrame(MsgError, nil, errorPayload{Message: message})
	return msg
}

func marshalFrame(f Frame) ([]byte, error) {
	msg, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}
	return msg, nil
}
