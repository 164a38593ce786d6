package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Settings keys.
const (
	SettingActiveSession = "active_session"
	SettingPasswordHash  = "password_hash"
)

// SessionRepository persists sessions and their program items. Implementations
// keep each session's Nummer values contiguous (1..N): every insert, delete and
// reorder runs atomically with its renumbering.
type SessionRepository interface {
	// CreateSession stores s and its items, numbering them 1..len(s.Items) in order.
	CreateSession(ctx context.Context, s Session) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	RenameSession(ctx context.Context, sessionID uuid.UUID, name string) (*Session, error)
	// DeleteSession removes the session with its items and notes. wasActive reports
	// whether the active-session pointer referenced it and was cleared.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) (wasActive bool, err error)

	// AddItem inserts item at InsertPosition(count, insertAfter), shifting later items up.
	AddItem(ctx context.Context, item Item, insertAfter *int) (*Item, error)
	UpdateItem(ctx context.Context, sessionID, itemID uuid.UUID, patch ItemPatch) (*Item, error)
	// DeleteItem removes the item and shifts every later item down by one.
	DeleteItem(ctx context.Context, sessionID, itemID uuid.UUID) error
	// ReorderItems renumbers the session's items to follow itemIDs, which must be
	// a permutation of the current item IDs.
	ReorderItems(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]Item, error)
}

type NoteRepository interface {
	AddNote(ctx context.Context, note Note) (*Note, error)
	// CloseNote marks the note closed. Closing a closed note succeeds with changed=false.
	CloseNote(ctx context.Context, sessionID, noteID uuid.UUID, at time.Time) (note *Note, changed bool, err error)
	// ListNotes returns matching notes ordered by timestamp ascending.
	ListNotes(ctx context.Context, sessionID uuid.UUID, filter NoteFilter) ([]Note, error)
}

// SettingsRepository holds the global key/value settings, including the
// active-session pointer.
type SettingsRepository interface {
	// SetActiveSession sets (or with nil clears) the pointer. Unknown IDs yield ErrSessionNotFound.
	SetActiveSession(ctx context.Context, sessionID *uuid.UUID) error
	GetActiveSession(ctx context.Context) (*uuid.UUID, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	// CreateSetting stores value only when key is unset and reports whether it did.
	CreateSetting(ctx context.Context, key, value string) (bool, error)
}

// Store is the complete persistence contract implemented by each store driver.
type Store interface {
	SessionRepository
	NoteRepository
	SettingsRepository
	Ping(ctx context.Context) error
}
