package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one show ("Sitzung") with its running order.
type Session struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	Items     []Item // ordered by Nummer
}

// ItemType is the kind of show segment.
type ItemType string

const (
	ItemTypeEinmarsch ItemType = "einmarsch"
	ItemTypeTanz      ItemType = "tanz"
	ItemTypeRede      ItemType = "rede"
	ItemTypeMusik     ItemType = "musik"
	ItemTypeSketch    ItemType = "sketch"
	ItemTypeEhrung    ItemType = "ehrung"
	ItemTypePause     ItemType = "pause"
	ItemTypeSonstiges ItemType = "sonstiges"
)

var itemTypes = map[ItemType]struct{}{
	ItemTypeEinmarsch: {}, ItemTypeTanz: {}, ItemTypeRede: {}, ItemTypeMusik: {},
	ItemTypeSketch: {}, ItemTypeEhrung: {}, ItemTypePause: {}, ItemTypeSonstiges: {},
}

// ParseItemType validates s. The empty string maps to ItemTypeSonstiges.
func ParseItemType(s string) (ItemType, error) {
	if s == "" {
		return ItemTypeSonstiges, nil
	}
	t := ItemType(s)
	if _, ok := itemTypes[t]; !ok {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// Item is one program item ("Programmpunkt"). Nummer is the 1-based position
// inside the session; per session the numbers are always exactly 1..N.
type Item struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Nummer        int
	Name          string
	Typ           ItemType
	EinzugCD      bool
	AuszugCD      bool
	Trainer       string
	Betreuer      string
	Namensliste   []string
	Anmoderation  string
	Abmoderation  string
	Notizen       string
	Dauer         int // planned duration in seconds
	PinboardNotes []PinboardNote
	Buehne        string
	CreatedAt     time.Time
}

type PinboardNoteType string

const (
	PinboardNoteText  PinboardNoteType = "text"
	PinboardNoteAudio PinboardNoteType = "audio"
)

// PinboardNote is a sticky note on an item. It is persisted as part of a JSON
// list column, so it carries its own serialization tags.
type PinboardNote struct {
	ID        string           `json:"id"`
	Type      PinboardNoteType `json:"type"`
	Text      string           `json:"text,omitempty"`
	AudioKey  string           `json:"audioKey,omitempty"`
	AudioName string           `json:"audioName,omitempty"`
	Waveform  []float64        `json:"waveform,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// ItemPatch holds a partial update. Nil fields are left untouched.
type ItemPatch struct {
	Name          *string
	Typ           *ItemType
	EinzugCD      *bool
	AuszugCD      *bool
	Trainer       *string
	Betreuer      *string
	Namensliste   *[]string
	Anmoderation  *string
	Abmoderation  *string
	Notizen       *string
	Dauer         *int
	PinboardNotes *[]PinboardNote
	Buehne        *string
}

// Apply merges the patch into item. Nummer, ID and timestamps are never touched.
func (p ItemPatch) Apply(item *Item) {
	setIf(&item.Name, p.Name)
	setIf(&item.Typ, p.Typ)
	setIf(&item.EinzugCD, p.EinzugCD)
	setIf(&item.AuszugCD, p.AuszugCD)
	setIf(&item.Trainer, p.Trainer)
	setIf(&item.Betreuer, p.Betreuer)
	setIf(&item.Namensliste, p.Namensliste)
	setIf(&item.Anmoderation, p.Anmoderation)
	setIf(&item.Abmoderation, p.Abmoderation)
	setIf(&item.Notizen, p.Notizen)
	setIf(&item.Dauer, p.Dauer)
	setIf(&item.PinboardNotes, p.PinboardNotes)
	setIf(&item.Buehne, p.Buehne)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// InsertPosition returns the nummer a new item takes in a session holding count
// items. insertAfter is the 1-based position to insert behind; nil, zero or
// negative values append, as do positions at or beyond the end.
func InsertPosition(count int, insertAfter *int) int {
	if insertAfter == nil || *insertAfter <= 0 || *insertAfter >= count {
		return count + 1
	}
	return *insertAfter + 1
}
