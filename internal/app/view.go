package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
)

// SessionView is the client-facing shape of a session.
type SessionView struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Erstellt time.Time  `json:"erstellt"`
	Items    []ItemView `json:"programmpunkte"`
}

// ItemView is the client-facing shape of a program item. Lists are never null.
type ItemView struct {
	ID            uuid.UUID             `json:"id"`
	SessionID     uuid.UUID             `json:"sitzungId"`
	Nummer        int                   `json:"nummer"`
	Name          string                `json:"name"`
	Typ           domain.ItemType       `json:"typ"`
	EinzugCD      bool                  `json:"einzugCD"`
	AuszugCD      bool                  `json:"auszugCD"`
	Trainer       string                `json:"trainer"`
	Betreuer      string                `json:"betreuer"`
	Namensliste   []string              `json:"namensliste"`
	Anmoderation  string                `json:"anmoderation"`
	Abmoderation  string                `json:"abmoderation"`
	Notizen       string                `json:"notizen"`
	Dauer         int                   `json:"dauer"`
	PinboardNotes []domain.PinboardNote `json:"pinboardNotes"`
	Buehne        string                `json:"buehne"`
	Erstellt      time.Time             `json:"erstellt"`
}

type NoteView struct {
	ID            uuid.UUID        `json:"id"`
	SessionID     uuid.UUID        `json:"sitzungId"`
	Text          string           `json:"text"`
	Type          domain.Recipient `json:"type"`
	Priority      domain.Priority  `json:"priority"`
	Sender        string           `json:"sender"`
	Timestamp     time.Time        `json:"timestamp"`
	Geschlossen   bool             `json:"geschlossen"`
	GeschlossenAm *time.Time       `json:"geschlossenAm"`
}

func NewSessionView(s domain.Session) SessionView {
	return SessionView{
		ID:       s.ID,
		Name:     s.Name,
		Erstellt: s.CreatedAt,
		Items:    NewItemViews(s.Items),
	}
}

func NewSessionViews(sessions []domain.Session) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, NewSessionView(s))
	}
	return out
}

func NewItemView(item domain.Item) ItemView {
	v := ItemView{
		ID:            item.ID,
		SessionID:     item.SessionID,
		Nummer:        item.Nummer,
		Name:          item.Name,
		Typ:           item.Typ,
		EinzugCD:      item.EinzugCD,
		AuszugCD:      item.AuszugCD,
		Trainer:       item.Trainer,
		Betreuer:      item.Betreuer,
		Namensliste:   item.Namensliste,
		Anmoderation:  item.Anmoderation,
		Abmoderation:  item.Abmoderation,
		Notizen:       item.Notizen,
		Dauer:         item.Dauer,
		PinboardNotes: item.PinboardNotes,
		Buehne:        item.Buehne,
		Erstellt:      item.CreatedAt,
	}
	if v.Typ == "" {
		v.Typ = domain.ItemTypeSonstiges
	}
	if v.Namensliste == nil {
		v.Namensliste = []string{}
	}
	if v.PinboardNotes == nil {
		v.PinboardNotes = []domain.PinboardNote{}
	}
	return v
}

func NewItemViews(items []domain.Item) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, item := range items {
		out = append(out, NewItemView(item))
	}
	return out
}

func NewNoteView(n domain.Note) NoteView {
	return NoteView{
		ID:            n.ID,
		SessionID:     n.SessionID,
		Text:          n.Text,
		Type:          n.Type,
		Priority:      n.Priority,
		Sender:        n.Sender,
		Timestamp:     n.Timestamp,
		Geschlossen:   n.Closed,
		GeschlossenAm: n.ClosedAt,
	}
}

func NewNoteViews(notes []domain.Note) []NoteView {
	out := make([]NoteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, NewNoteView(n))
	}
	return out
}

// Event payloads. Each carries the session id and the affected entity by value.

type ItemEvent struct {
	SessionID uuid.UUID `json:"sessionId"`
	Item      ItemView  `json:"item"`
}

type ItemDeletedEvent struct {
	SessionID uuid.UUID `json:"sessionId"`
	ItemID    uuid.UUID `json:"itemId"`
}

type ItemsReorderedEvent struct {
	SessionID uuid.UUID  `json:"sessionId"`
	Items     []ItemView `json:"items"`
}

type NoteEvent struct {
	SessionID uuid.UUID `json:"sessionId"`
	Note      NoteView  `json:"note"`
}

type SessionEvent struct {
	SessionID uuid.UUID    `json:"sessionId"`
	Session   *SessionView `json:"session,omitempty"`
}

type ActiveSessionEvent struct {
	SessionID *uuid.UUID `json:"sessionId"`
}

// Flag is a boolean that also accepts the 0/1 and string encodings older
// clients and exports use.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case bool:
		*f = Flag(v)
	case float64:
		*f = v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*f = Flag(b)
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// ItemInput is a create or partial-update request for a program item. Absent
// fields are nil.
type ItemInput struct {
	Name          *string                `json:"name"`
	Typ           *string                `json:"typ"`
	EinzugCD      *Flag                  `json:"einzugCD"`
	AuszugCD      *Flag                  `json:"auszugCD"`
	Trainer       *string                `json:"trainer"`
	Betreuer      *string                `json:"betreuer"`
	Namensliste   *[]string              `json:"namensliste"`
	Anmoderation  *string                `json:"anmoderation"`
	Abmoderation  *string                `json:"abmoderation"`
	Notizen       *string                `json:"notizen"`
	Dauer         *int                   `json:"dauer"`
	PinboardNotes *[]domain.PinboardNote `json:"pinboardNotes"`
	Buehne        *string                `json:"buehne"`
}

// ItemInputFromView turns a complete item (as found in exports) into an input.
func ItemInputFromView(v ItemView) ItemInput {
	typ := string(v.Typ)
	einzug, auszug := Flag(v.EinzugCD), Flag(v.AuszugCD)
	return ItemInput{
		Name:          &v.Name,
		Typ:           &typ,
		EinzugCD:      &einzug,
		AuszugCD:      &auszug,
		Trainer:       &v.Trainer,
		Betreuer:      &v.Betreuer,
		Namensliste:   &v.Namensliste,
		Anmoderation:  &v.Anmoderation,
		Abmoderation:  &v.Abmoderation,
		Notizen:       &v.Notizen,
		Dauer:         &v.Dauer,
		PinboardNotes: &v.PinboardNotes,
		Buehne:        &v.Buehne,
	}
}

// NoteInput is a request to post a note.
type NoteInput struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Sender   string `json:"sender"`
}
