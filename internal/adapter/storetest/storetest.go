// Package storetest is a behavioural test suite shared by every domain.Store driver.
package storetest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Drivers backed by shared infrastructure are
// responsible for isolating or truncating between calls.
type Factory func(t *testing.T) domain.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s domain.Store){
		"CreateSessionNumbersItems":         testCreateSessionNumbersItems,
		"GalaScenario":                      testGalaScenario,
		"InsertAfterShiftsLaterItems":       testInsertAfterShiftsLaterItems,
		"DeleteShiftsLaterItems":            testDeleteShiftsLaterItems,
		"RandomOperationsStayContiguous":    testRandomOperationsStayContiguous,
		"ConcurrentMutationsStayContiguous": testConcurrentMutationsStayContiguous,
		"UpdateItemMergesFields":            testUpdateItemMergesFields,
		"NotFoundErrors":                    testNotFoundErrors,
		"ReorderItems":                      testReorderItems,
		"RenameSession":                     testRenameSession,
		"DeleteSessionCascades":             testDeleteSessionCascades,
		"DeleteActiveSessionClearsPointer":  testDeleteActiveSessionClearsPointer,
		"ActiveSessionPointer":              testActiveSessionPointer,
		"NotesLifecycle":                    testNotesLifecycle,
		"NoteFilters":                       testNoteFilters,
		"Settings":                          testSettings,
		"CreateSettingOnlyOnce":             testCreateSettingOnlyOnce,
		"ListSessionsNestsItems":            testListSessionsNestsItems,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

var baseTime = time.Date(2026, time.February, 14, 19, 11, 0, 0, time.UTC)

// NewSession builds a session with freshly generated IDs for the given item names.
func NewSession(name string, itemNames ...string) domain.Session {
	s := domain.Session{ID: uuid.New(), Name: name, CreatedAt: baseTime}
	for _, n := range itemNames {
		s.Items = append(s.Items, NewItem(s.ID, n))
	}
	return s
}

// NewItem builds an unsaved item for sessionID.
func NewItem(sessionID uuid.UUID, name string) domain.Item {
	return domain.Item{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      name,
		Typ:       domain.ItemTypeSonstiges,
		CreatedAt: baseTime,
	}
}

// RequireContiguous asserts the session's numbers are exactly 1..N and returns
// the item names in running order.
func RequireContiguous(t *testing.T, s domain.Store, sessionID uuid.UUID) []string {
	t.Helper()

	session, err := s.GetSession(context.Background(), sessionID)
	require.NoError(t, err)

	names := make([]string, len(session.Items))
	for i, item := range session.Items {
		require.Equalf(t, i+1, item.Nummer, "item %q at index %d", item.Name, i)
		names[i] = item.Name
	}
	return names
}

func ptr[T any](v T) *T { return &v }

func testCreateSessionNumbersItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Prunksitzung", "Einmarsch", "Begrüßung", "Tanzmariechen")

	created, err := s.CreateSession(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, session.ID, created.ID)
	require.Len(t, created.Items, 3)

	names := RequireContiguous(t, s, session.ID)
	assert.Equal(t, []string{"Einmarsch", "Begrüßung", "Tanzmariechen"}, names)
}

func testGalaScenario(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Gala")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	a, err := s.AddItem(ctx, NewItem(session.ID, "A"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Nummer)

	b, err := s.AddItem(ctx, NewItem(session.ID, "B"), ptr(0))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Nummer)

	assert.Equal(t, []string{"A", "B"}, RequireContiguous(t, s, session.ID))

	require.NoError(t, s.DeleteItem(ctx, session.ID, a.ID))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "B", got.Items[0].Name)
	assert.Equal(t, 1, got.Items[0].Nummer)
}

func testInsertAfterShiftsLaterItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung", "P1", "P2", "P3", "P4")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	added, err := s.AddItem(ctx, NewItem(session.ID, "New"), ptr(2))
	require.NoError(t, err)
	assert.Equal(t, 3, added.Nummer)

	assert.Equal(t, []string{"P1", "P2", "New", "P3", "P4"}, RequireContiguous(t, s, session.ID))
}

func testDeleteShiftsLaterItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung", "P1", "P2", "P3", "P4")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	before, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteItem(ctx, session.ID, session.Items[1].ID))

	after, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, after.Items, 3)

	nummerByID := make(map[uuid.UUID]int)
	for _, item := range after.Items {
		nummerByID[item.ID] = item.Nummer
	}
	for _, item := range before.Items {
		if item.ID == session.Items[1].ID {
			continue
		}
		want := item.Nummer
		if item.Nummer > 2 {
			want--
		}
		assert.Equalf(t, want, nummerByID[item.ID], "item %q", item.Name)
	}
}

func testRandomOperationsStayContiguous(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Fuzz")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(42, 7))
	var ids []uuid.UUID

	for step := range 60 {
		if len(ids) == 0 || rng.IntN(3) > 0 {
			var after *int
			if rng.IntN(4) > 0 {
				after = ptr(rng.IntN(len(ids) + 2))
			}
			item, err := s.AddItem(ctx, NewItem(session.ID, "x"), after)
			require.NoError(t, err, "step %d", step)
			ids = append(ids, item.ID)
		} else {
			i := rng.IntN(len(ids))
			require.NoError(t, s.DeleteItem(ctx, session.ID, ids[i]), "step %d", step)
			ids = append(ids[:i], ids[i+1:]...)
		}

		names := RequireContiguous(t, s, session.ID)
		require.Len(t, names, len(ids))
	}
}

func testConcurrentMutationsStayContiguous(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Race", "P1", "P2", "P3", "P4", "P5", "P6")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := range 6 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.AddItem(ctx, NewItem(session.ID, "add"), ptr(i%3))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			errs <- s.DeleteItem(ctx, session.ID, session.Items[i].ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	names := RequireContiguous(t, s, session.ID)
	assert.Len(t, names, 6)
}

func testUpdateItemMergesFields(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	item := NewItem(session.ID, "Garde")
	item.Typ = domain.ItemTypeTanz
	item.Trainer = "Petra"
	item.Dauer = 420
	item.Namensliste = []string{"Lea", "Mia"}
	item.PinboardNotes = []domain.PinboardNote{{
		ID: "n1", Type: domain.PinboardNoteAudio, AudioKey: "abc", AudioName: "einzug.mp3",
		Waveform: []float64{0.1, 0.5}, CreatedAt: baseTime,
	}}
	_, err = s.AddItem(ctx, item, nil)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, NewItem(session.ID, "Rede"), nil)
	require.NoError(t, err)

	updated, err := s.UpdateItem(ctx, session.ID, item.ID, domain.ItemPatch{
		Name:     ptr("Stadtgarde"),
		EinzugCD: ptr(true),
		Buehne:   ptr("Podest links"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Stadtgarde", updated.Name)
	assert.True(t, updated.EinzugCD)
	assert.Equal(t, "Podest links", updated.Buehne)
	assert.Equal(t, domain.ItemTypeTanz, updated.Typ)
	assert.Equal(t, "Petra", updated.Trainer)
	assert.Equal(t, 420, updated.Dauer)
	assert.Equal(t, []string{"Lea", "Mia"}, updated.Namensliste)
	require.Len(t, updated.PinboardNotes, 1)
	assert.Equal(t, []float64{0.1, 0.5}, updated.PinboardNotes[0].Waveform)
	assert.Equal(t, 1, updated.Nummer)

	RequireContiguous(t, s, session.ID)
}

func testNotFoundErrors(t *testing.T, s domain.Store) {
	ctx := context.Background()
	missing := uuid.New()

	_, err := s.GetSession(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.AddItem(ctx, NewItem(missing, "x"), nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.RenameSession(ctx, missing, "x")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.DeleteSession(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	session := NewSession("Sitzung", "P1")
	_, err = s.CreateSession(ctx, session)
	require.NoError(t, err)

	_, err = s.UpdateItem(ctx, session.ID, missing, domain.ItemPatch{Name: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = s.UpdateItem(ctx, missing, session.Items[0].ID, domain.ItemPatch{Name: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrItemNotFound, "item of another session")

	assert.ErrorIs(t, s.DeleteItem(ctx, session.ID, missing), domain.ErrItemNotFound)

	_, _, err = s.CloseNote(ctx, session.ID, missing, baseTime)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)

	_, err = s.ListNotes(ctx, missing, domain.NoteFilter{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	assert.ErrorIs(t, s.SetActiveSession(ctx, &missing), domain.ErrSessionNotFound)
}

func testReorderItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung", "P1", "P2", "P3")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	ids := []uuid.UUID{session.Items[2].ID, session.Items[0].ID, session.Items[1].ID}
	items, err := s.ReorderItems(ctx, session.ID, ids)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "P3", items[0].Name)
	assert.Equal(t, 1, items[0].Nummer)

	assert.Equal(t, []string{"P3", "P1", "P2"}, RequireContiguous(t, s, session.ID))

	_, err = s.ReorderItems(ctx, session.ID, ids[:2])
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "missing id")

	_, err = s.ReorderItems(ctx, session.ID, []uuid.UUID{ids[0], ids[0], ids[1]})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "duplicate id")

	_, err = s.ReorderItems(ctx, session.ID, []uuid.UUID{ids[0], ids[1], uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "foreign id")

	assert.Equal(t, []string{"P3", "P1", "P2"}, RequireContiguous(t, s, session.ID), "failed reorder leaves order intact")

	_, err = s.ReorderItems(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testRenameSession(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Alt", "P1")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	renamed, err := s.RenameSession(ctx, session.ID, "Neu")
	require.NoError(t, err)
	assert.Equal(t, "Neu", renamed.Name)
	assert.Len(t, renamed.Items, 1)
}

func testDeleteSessionCascades(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Weg", "P1", "P2")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)
	_, err = s.AddNote(ctx, domain.Note{ID: uuid.New(), SessionID: session.ID, Text: "Mikro 2 leer", Type: domain.RecipientTechnik, Priority: domain.PriorityNormal, Timestamp: baseTime})
	require.NoError(t, err)

	wasActive, err := s.DeleteSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, wasActive)

	_, err = s.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = s.ListNotes(ctx, session.ID, domain.NoteFilter{IncludeClosed: true})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testDeleteActiveSessionClearsPointer(t *testing.T, s domain.Store) {
	ctx := context.Background()
	x := NewSession("X")
	y := NewSession("Y")
	_, err := s.CreateSession(ctx, x)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, y)
	require.NoError(t, err)

	require.NoError(t, s.SetActiveSession(ctx, &x.ID))

	wasActive, err := s.DeleteSession(ctx, y.ID)
	require.NoError(t, err)
	assert.False(t, wasActive)

	active, err := s.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, x.ID, *active)

	wasActive, err = s.DeleteSession(ctx, x.ID)
	require.NoError(t, err)
	assert.True(t, wasActive)

	active, err = s.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func testActiveSessionPointer(t *testing.T, s domain.Store) {
	ctx := context.Background()

	active, err := s.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	a := NewSession("A")
	b := NewSession("B")
	_, err = s.CreateSession(ctx, a)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.SetActiveSession(ctx, &a.ID))
	require.NoError(t, s.SetActiveSession(ctx, &b.ID))

	active, err = s.GetActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, *active, "last write wins")

	require.NoError(t, s.SetActiveSession(ctx, nil))
	active, err = s.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func testNotesLifecycle(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	later := domain.Note{ID: uuid.New(), SessionID: session.ID, Text: "Kaffee alle", Type: domain.RecipientKueche, Priority: domain.PriorityWichtig, Sender: "kulissen", Timestamp: baseTime.Add(time.Minute)}
	earlier := domain.Note{ID: uuid.New(), SessionID: session.ID, Text: "Licht aus", Type: domain.RecipientTechnik, Priority: domain.PriorityDringend, Sender: "moderation", Timestamp: baseTime}
	_, err = s.AddNote(ctx, later)
	require.NoError(t, err)
	_, err = s.AddNote(ctx, earlier)
	require.NoError(t, err)

	notes, err := s.ListNotes(ctx, session.ID, domain.NoteFilter{})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, earlier.ID, notes[0].ID, "ordered by timestamp ascending")
	assert.Equal(t, "moderation", notes[0].Sender)
	assert.Equal(t, domain.PriorityDringend, notes[0].Priority)

	closedAt := baseTime.Add(2 * time.Minute)
	closed, changed, err := s.CloseNote(ctx, session.ID, earlier.ID, closedAt)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, closed.Closed)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(closedAt))

	again, changed, err := s.CloseNote(ctx, session.ID, earlier.ID, closedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed, "closing twice is a no-op")
	assert.True(t, again.Closed)
	assert.True(t, again.ClosedAt.Equal(closedAt), "first close time is kept")

	open, err := s.ListNotes(ctx, session.ID, domain.NoteFilter{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, later.ID, open[0].ID)

	all, err := s.ListNotes(ctx, session.ID, domain.NoteFilter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Len(t, all, 2, "closed notes are kept for the activity log")
}

func testNoteFilters(t *testing.T, s domain.Store) {
	ctx := context.Background()
	session := NewSession("Sitzung")
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	for i, r := range []domain.Recipient{domain.RecipientTechnik, domain.RecipientKueche, domain.RecipientAlle} {
		_, err := s.AddNote(ctx, domain.Note{ID: uuid.New(), SessionID: session.ID, Text: string(r), Type: r, Priority: domain.PriorityNormal, Timestamp: baseTime.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	notes, err := s.ListNotes(ctx, session.ID, domain.NoteFilter{Recipient: domain.RecipientTechnik})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, domain.RecipientTechnik, notes[0].Type)
	assert.Equal(t, domain.RecipientAlle, notes[1].Type)
}

func testSettings(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.GetSetting(ctx, domain.SettingPasswordHash)
	assert.ErrorIs(t, err, domain.ErrSettingNotFound)

	require.NoError(t, s.SetSetting(ctx, domain.SettingPasswordHash, "hash-1"))
	require.NoError(t, s.SetSetting(ctx, domain.SettingPasswordHash, "hash-2"))

	v, err := s.GetSetting(ctx, domain.SettingPasswordHash)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", v)
}

func testCreateSettingOnlyOnce(t *testing.T, s domain.Store) {
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value := fmt.Sprintf("hash-%d", i)
			created, err := s.CreateSetting(ctx, domain.SettingPasswordHash, value)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				winners = append(winners, value)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one writer creates the setting")
	v, err := s.GetSetting(ctx, domain.SettingPasswordHash)
	require.NoError(t, err)
	assert.Equal(t, winners[0], v)

	created, err := s.CreateSetting(ctx, domain.SettingPasswordHash, "late")
	require.NoError(t, err)
	assert.False(t, created)
}

func testListSessionsNestsItems(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := NewSession("A", "A1", "A2")
	b := NewSession("B", "B1")
	b.CreatedAt = baseTime.Add(time.Hour)
	_, err := s.CreateSession(ctx, a)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, b)
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "B", sessions[0].Name, "newest first")
	assert.Len(t, sessions[0].Items, 1)
	assert.Equal(t, []string{"A1", "A2"}, []string{sessions[1].Items[0].Name, sessions[1].Items[1].Name})
}
