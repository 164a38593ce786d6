// Package memory is a process-local store driver with the same semantics as
// the PostgreSQL driver. It backs development mode and unit tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
)

type memorySession struct {
	session domain.Session // Items kept in nummer order
	notes   []domain.Note
}

// Store holds all state behind one mutex; every operation, renumbering
// included, runs under it and is therefore atomic.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*memorySession
	order    []uuid.UUID // creation order
	settings map[string]string
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*memorySession),
		settings: make(map[string]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := session
	stored.Items = make([]domain.Item, len(session.Items))
	for i, item := range session.Items {
		item.SessionID = session.ID
		item.Nummer = i + 1
		stored.Items[i] = cloneItem(item)
	}

	s.sessions[session.ID] = &memorySession{session: stored}
	s.order = append(s.order, session.ID)

	out := cloneSession(stored)
	return &out, nil
}

func (s *Store) ListSessions(context.Context) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneSession(s.sessions[id].session))
	}
	// newest first, like the SQL driver
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetSession(_ context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := cloneSession(ms.session)
	return &out, nil
}

func (s *Store) RenameSession(_ context.Context, sessionID uuid.UUID, name string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	ms.session.Name = name
	out := cloneSession(ms.session)
	return &out, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return false, domain.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	s.order = slices.DeleteFunc(s.order, func(id uuid.UUID) bool { return id == sessionID })

	wasActive := s.settings[domain.SettingActiveSession] == sessionID.String()
	if wasActive {
		delete(s.settings, domain.SettingActiveSession)
	}
	return wasActive, nil
}

func (s *Store) AddItem(_ context.Context, item domain.Item, insertAfter *int) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[item.SessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	items := ms.session.Items
	target := domain.InsertPosition(len(items), insertAfter)
	item.Nummer = target
	items = slices.Insert(items, target-1, cloneItem(item))
	renumber(items)
	ms.session.Items = items

	out := cloneItem(items[target-1])
	return &out, nil
}

func (s *Store) UpdateItem(_ context.Context, sessionID, itemID uuid.UUID, patch domain.ItemPatch) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ms, err := s.findItem(sessionID, itemID)
	if err != nil {
		return nil, err
	}

	item := &ms.session.Items[idx]
	patch.Apply(item)
	*item = cloneItem(*item)

	out := cloneItem(*item)
	return &out, nil
}

func (s *Store) DeleteItem(_ context.Context, sessionID, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ms, err := s.findItem(sessionID, itemID)
	if err != nil {
		return err
	}

	ms.session.Items = slices.Delete(ms.session.Items, idx, idx+1)
	renumber(ms.session.Items)
	return nil
}

func (s *Store) ReorderItems(_ context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	current := ms.session.Items
	if len(itemIDs) != len(current) {
		return nil, domain.ErrInvalidOrder
	}
	byID := make(map[uuid.UUID]domain.Item, len(current))
	for _, item := range current {
		byID[item.ID] = item
	}

	reordered := make([]domain.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := byID[id]
		if !ok {
			return nil, domain.ErrInvalidOrder
		}
		delete(byID, id) // rejects duplicates
		reordered = append(reordered, item)
	}
	renumber(reordered)
	ms.session.Items = reordered

	return cloneItems(reordered), nil
}

func (s *Store) AddNote(_ context.Context, note domain.Note) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[note.SessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	ms.notes = append(ms.notes, note)
	return &note, nil
}

func (s *Store) CloseNote(_ context.Context, sessionID, noteID uuid.UUID, at time.Time) (*domain.Note, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, domain.ErrSessionNotFound
	}
	for i := range ms.notes {
		n := &ms.notes[i]
		if n.ID != noteID {
			continue
		}
		if n.Closed {
			out := *n
			return &out, false, nil
		}
		closedAt := at
		n.Closed = true
		n.ClosedAt = &closedAt
		out := *n
		return &out, true, nil
	}
	return nil, false, domain.ErrNoteNotFound
}

func (s *Store) ListNotes(_ context.Context, sessionID uuid.UUID, filter domain.NoteFilter) ([]domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	out := make([]domain.Note, 0, len(ms.notes))
	for _, n := range ms.notes {
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) SetActiveSession(_ context.Context, sessionID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == nil {
		delete(s.settings, domain.SettingActiveSession)
		return nil
	}
	if _, ok := s.sessions[*sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.settings[domain.SettingActiveSession] = sessionID.String()
	return nil
}

func (s *Store) GetActiveSession(context.Context) (*uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.settings[domain.SettingActiveSession]
	if !ok || raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	return &id, nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.settings[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *Store) CreateSetting(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[key]; ok {
		return false, nil
	}
	s.settings[key] = value
	return true, nil
}

func (s *Store) findItem(sessionID, itemID uuid.UUID) (int, *memorySession, error) {
	ms, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil, domain.ErrItemNotFound
	}
	idx := slices.IndexFunc(ms.session.Items, func(it domain.Item) bool { return it.ID == itemID })
	if idx < 0 {
		return 0, nil, domain.ErrItemNotFound
	}
	return idx, ms, nil
}

func renumber(items []domain.Item) {
	for i := range items {
		items[i].Nummer = i + 1
	}
}

func cloneSession(s domain.Session) domain.Session {
	s.Items = cloneItems(s.Items)
	return s
}

func cloneItems(items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	for i, item := range items {
		out[i] = cloneItem(item)
	}
	return out
}

func cloneItem(item domain.Item) domain.Item {
	item.Namensliste = slices.Clone(item.Namensliste)
	notes := make([]domain.PinboardNote, len(item.PinboardNotes))
	for i, n := range item.PinboardNotes {
		n.Waveform = slices.Clone(n.Waveform)
		notes[i] = n
	}
	if item.PinboardNotes == nil {
		notes = nil
	}
	item.PinboardNotes = notes
	return item
}
