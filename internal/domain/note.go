package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recipient is the role group a note ("Zettel") is addressed to.
type Recipient string

const (
	RecipientModeration Recipient = "moderation"
	RecipientTechnik    Recipient = "technik"
	RecipientKulissen   Recipient = "kulissen"
	RecipientKueche     Recipient = "kueche"
	RecipientAlle       Recipient = "alle"
)

func ParseRecipient(s string) (Recipient, error) {
	switch r := Recipient(s); r {
	case RecipientModeration, RecipientTechnik, RecipientKulissen, RecipientKueche, RecipientAlle:
		return r, nil
	case "":
		return RecipientAlle, nil
	default:
		return "", fmt.Errorf("unknown recipient %q", s)
	}
}

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityWichtig  Priority = "wichtig"
	PriorityDringend Priority = "dringend"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityNormal, PriorityWichtig, PriorityDringend:
		return p, nil
	case "":
		return PriorityNormal, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Note is a cross-role message. Notes are soft-closed, never deleted, so the
// closed ones form the activity log.
type Note struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Text      string
	Type      Recipient
	Priority  Priority
	Sender    string
	Timestamp time.Time
	Closed    bool
	ClosedAt  *time.Time
}

// NoteFilter selects notes for a list query. A zero filter returns open notes
// for every recipient.
type NoteFilter struct {
	IncludeClosed bool
	Recipient     Recipient // empty matches all; otherwise also matches RecipientAlle
}

func (f NoteFilter) Matches(n Note) bool {
	if n.Closed && !f.IncludeClosed {
		return false
	}
	if f.Recipient == "" || f.Recipient == RecipientAlle {
		return true
	}
	return n.Type == f.Recipient || n.Type == RecipientAlle
}
