package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/metrics"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Service is the application layer. It validates input, runs the store
// operation and publishes the matching change event.
type Service struct {
	store     domain.Store
	publisher domain.EventPublisher
	media     domain.MediaStore
	clock     clockwork.Clock
	metrics   *metrics.EventMetrics
}

// NewService creates the application layer service.
// media may be nil when uploads are disabled; m may be nil in tests.
func NewService(store domain.Store, publisher domain.EventPublisher, media domain.MediaStore, clock clockwork.Clock, m *metrics.EventMetrics) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		media:     media,
		clock:     clock,
		metrics:   m,
	}
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// now returns the current time at the precision the database keeps.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// --- Sessions ---

func (s *Service) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return s.store.ListSessions(ctx)
}

func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// CreateSession stores a new session with an optional initial running order.
func (s *Service) CreateSession(ctx context.Context, name string, items []ItemInput) (*domain.Session, error) {
	return s.createSession(ctx, name, items, nil)
}

// createSession stamps item i with createdAt[i] when set, otherwise with now.
func (s *Service) createSession(ctx context.Context, name string, items []ItemInput, createdAt []time.Time) (*domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationError("session name is required").WithField("field", "name")
	}

	now := s.now()
	session := domain.Session{ID: uuid.New(), Name: name, CreatedAt: now}
	for i, in := range items {
		created := now
		if i < len(createdAt) && !createdAt[i].IsZero() {
			created = createdAt[i]
		}
		item, err := s.newItem(session.ID, in, created)
		if err != nil {
			return nil, withItemIndex(err, i)
		}
		session.Items = append(session.Items, item)
	}

	created, err := s.store.CreateSession(ctx, session)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventSessionListChanged, uuid.Nil, struct{}{})
	return created, nil
}

func (s *Service) RenameSession(ctx context.Context, sessionID uuid.UUID, name string) (*domain.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationError("session name is required").WithField("field", "name")
	}

	session, err := s.store.RenameSession(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}

	view := NewSessionView(*session)
	s.publish(ctx, domain.EventSessionUpdated, sessionID, SessionEvent{SessionID: sessionID, Session: &view})
	s.publish(ctx, domain.EventSessionListChanged, uuid.Nil, struct{}{})
	return session, nil
}

// DeleteSession removes the session. Members of its room get sessionDeleted;
// when it was the active session every client learns the pointer is cleared.
func (s *Service) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	wasActive, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}

	s.publish(ctx, domain.EventSessionDeleted, sessionID, SessionEvent{SessionID: sessionID})
	s.publish(ctx, domain.EventSessionListChanged, uuid.Nil, struct{}{})
	if wasActive {
		s.publish(ctx, domain.EventActiveSessionChanged, uuid.Nil, ActiveSessionEvent{})
	}
	return nil
}

// --- Program items ---

// AddItem inserts an item behind position insertAfter (nil appends).
func (s *Service) AddItem(ctx context.Context, sessionID uuid.UUID, in ItemInput, insertAfter *int) (*domain.Item, error) {
	item, err := s.newItem(sessionID, in, s.now())
	if err != nil {
		return nil, err
	}

	added, err := s.store.AddItem(ctx, item, insertAfter)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventItemAdded, sessionID, ItemEvent{SessionID: sessionID, Item: NewItemView(*added)})
	return added, nil
}

func (s *Service) UpdateItem(ctx context.Context, sessionID, itemID uuid.UUID, in ItemInput) (*domain.Item, error) {
	patch, err := s.itemPatch(in)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateItem(ctx, sessionID, itemID, patch)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventItemUpdated, sessionID, ItemEvent{SessionID: sessionID, Item: NewItemView(*updated)})
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, sessionID, itemID uuid.UUID) error {
	if err := s.store.DeleteItem(ctx, sessionID, itemID); err != nil {
		return err
	}

	s.publish(ctx, domain.EventItemDeleted, sessionID, ItemDeletedEvent{SessionID: sessionID, ItemID: itemID})
	return nil
}

// ReorderItems renumbers the running order to follow itemIDs.
func (s *Service) ReorderItems(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error) {
	items, err := s.store.ReorderItems(ctx, sessionID, itemIDs)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventItemsReordered, sessionID, ItemsReorderedEvent{SessionID: sessionID, Items: NewItemViews(items)})
	return items, nil
}

// --- Active session ---

func (s *Service) GetActiveSession(ctx context.Context) (*uuid.UUID, error) {
	return s.store.GetActiveSession(ctx)
}

func (s *Service) SetActiveSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.store.SetActiveSession(ctx, &sessionID); err != nil {
		return err
	}

	s.publish(ctx, domain.EventActiveSessionChanged, uuid.Nil, ActiveSessionEvent{SessionID: &sessionID})
	return nil
}

func (s *Service) ClearActiveSession(ctx context.Context) error {
	if err := s.store.SetActiveSession(ctx, nil); err != nil {
		return err
	}

	s.publish(ctx, domain.EventActiveSessionChanged, uuid.Nil, ActiveSessionEvent{})
	return nil
}

// --- Notes ---

func (s *Service) AddNote(ctx context.Context, sessionID uuid.UUID, in NoteInput) (*domain.Note, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, apperrors.ValidationError("note text is required").WithField("field", "text")
	}
	recipient, err := domain.ParseRecipient(in.Type)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error()).WithField("field", "type")
	}
	priority, err := domain.ParsePriority(in.Priority)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error()).WithField("field", "priority")
	}

	note, err := s.store.AddNote(ctx, domain.Note{
		ID:        uuid.New(),
		SessionID: sessionID,
		Text:      text,
		Type:      recipient,
		Priority:  priority,
		Sender:    strings.TrimSpace(in.Sender),
		Timestamp: s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventNoteAdded, sessionID, NoteEvent{SessionID: sessionID, Note: NewNoteView(*note)})
	return note, nil
}

// CloseNote soft-closes a note. Closing an already closed note returns it
// unchanged and publishes nothing.
func (s *Service) CloseNote(ctx context.Context, sessionID, noteID uuid.UUID) (*domain.Note, error) {
	note, changed, err := s.store.CloseNote(ctx, sessionID, noteID, s.now())
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(ctx, domain.EventNoteClosed, sessionID, NoteEvent{SessionID: sessionID, Note: NewNoteView(*note)})
	}
	return note, nil
}

// ListNotes returns the session's notes. recipient narrows to one role (notes
// addressed to everyone always match); includeClosed adds the activity log.
func (s *Service) ListNotes(ctx context.Context, sessionID uuid.UUID, includeClosed bool, recipient string) ([]domain.Note, error) {
	filter := domain.NoteFilter{IncludeClosed: includeClosed}
	if recipient != "" {
		r, err := domain.ParseRecipient(recipient)
		if err != nil {
			return nil, apperrors.ValidationError(err.Error()).WithField("field", "type")
		}
		filter.Recipient = r
	}
	return s.store.ListNotes(ctx, sessionID, filter)
}

// --- Media ---

func (s *Service) UploadMedia(ctx context.Context, r io.Reader, contentType string) (domain.MediaInfo, error) {
	if s.media == nil {
		return domain.MediaInfo{}, apperrors.NotFoundError("media storage is not configured")
	}
	return s.media.Put(ctx, r, contentType)
}

func (s *Service) OpenMedia(ctx context.Context, key string) (io.ReadCloser, domain.MediaInfo, error) {
	if s.media == nil {
		return nil, domain.MediaInfo{}, domain.ErrMediaNotFound
	}
	return s.media.Open(ctx, key)
}

// --- helpers ---

func (s *Service) newItem(sessionID uuid.UUID, in ItemInput, now time.Time) (domain.Item, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return domain.Item{}, apperrors.ValidationError("item name is required").WithField("field", "name")
	}

	patch, err := s.itemPatch(in)
	if err != nil {
		return domain.Item{}, err
	}

	item := domain.Item{
		ID:        uuid.New(),
		SessionID: sessionID,
		Typ:       domain.ItemTypeSonstiges,
		CreatedAt: now,
	}
	patch.Apply(&item)
	return item, nil
}

// itemPatch validates in and converts it to a store patch.
func (s *Service) itemPatch(in ItemInput) (domain.ItemPatch, error) {
	patch := domain.ItemPatch{
		Trainer:      in.Trainer,
		Betreuer:     in.Betreuer,
		Anmoderation: in.Anmoderation,
		Abmoderation: in.Abmoderation,
		Notizen:      in.Notizen,
		Buehne:       in.Buehne,
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return domain.ItemPatch{}, apperrors.ValidationError("item name must not be empty").WithField("field", "name")
		}
		patch.Name = &name
	}
	if in.Typ != nil {
		typ, err := domain.ParseItemType(*in.Typ)
		if err != nil {
			return domain.ItemPatch{}, apperrors.ValidationError(err.Error()).WithField("field", "typ")
		}
		patch.Typ = &typ
	}
	if in.Dauer != nil {
		if *in.Dauer < 0 {
			return domain.ItemPatch{}, apperrors.ValidationError("dauer must not be negative").WithField("field", "dauer")
		}
		patch.Dauer = in.Dauer
	}
	if in.EinzugCD != nil {
		v := bool(*in.EinzugCD)
		patch.EinzugCD = &v
	}
	if in.AuszugCD != nil {
		v := bool(*in.AuszugCD)
		patch.AuszugCD = &v
	}
	if in.Namensliste != nil {
		names := make([]string, 0, len(*in.Namensliste))
		for _, n := range *in.Namensliste {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		patch.Namensliste = &names
	}
	if in.PinboardNotes != nil {
		notes, err := s.normalizePinboard(*in.PinboardNotes)
		if err != nil {
			return domain.ItemPatch{}, err
		}
		patch.PinboardNotes = &notes
	}
	return patch, nil
}

// normalizePinboard fills in ids, types and timestamps the client left out.
func (s *Service) normalizePinboard(notes []domain.PinboardNote) ([]domain.PinboardNote, error) {
	out := make([]domain.PinboardNote, 0, len(notes))
	for _, n := range notes {
		switch n.Type {
		case "":
			n.Type = domain.PinboardNoteText
			if n.AudioKey != "" {
				n.Type = domain.PinboardNoteAudio
			}
		case domain.PinboardNoteText, domain.PinboardNoteAudio:
		default:
			return nil, apperrors.ValidationError("unknown pinboard note type").
				WithField("field", "pinboardNotes").WithField("type", string(n.Type))
		}
		if n.Type == domain.PinboardNoteAudio && n.AudioKey == "" {
			return nil, apperrors.ValidationError("audio note needs an audioKey").WithField("field", "pinboardNotes")
		}
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = s.now()
		}
		out = append(out, n)
	}
	return out, nil
}

func withItemIndex(err error, index int) error {
	if structured := apperrors.AsStructuredError(err); structured.Type == apperrors.TypeValidation {
		return structured.WithField("item", index)
	}
	return err
}

// publish hands the event to the realtime layer. Failures are logged only.
func (s *Service) publish(ctx context.Context, t domain.EventType, sessionID uuid.UUID, data any) {
	event, err := domain.NewEvent(t, sessionID, data)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build event", "event_type", t, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish event", "event_type", t, "session_id", sessionID.String(), "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.Published.WithLabelValues(string(t)).Inc()
	}
}
