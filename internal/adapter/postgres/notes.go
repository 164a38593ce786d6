package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const noteColumns = `id, sitzung_id, text, typ, prioritaet, absender, zeitstempel, geschlossen, geschlossen_am`

func scanNote(row pgx.Row) (domain.Note, error) {
	var (
		note     domain.Note
		typ      string
		priority string
	)
	err := row.Scan(&note.ID, &note.SessionID, &note.Text, &typ, &priority, &note.Sender,
		&note.Timestamp, &note.Closed, &note.ClosedAt)
	note.Type = domain.Recipient(typ)
	note.Priority = domain.Priority(priority)
	return note, err
}

func (s *Store) AddNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO zettel (`+noteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		note.ID, note.SessionID, note.Text, string(note.Type), string(note.Priority), note.Sender,
		note.Timestamp, note.Closed, note.ClosedAt,
	)
	if isForeignKeyViolation(err) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}
	return &note, nil
}

func (s *Store) CloseNote(ctx context.Context, sessionID, noteID uuid.UUID, at time.Time) (*domain.Note, bool, error) {
	// The WHERE on geschlossen keeps the first close time.
	note, err := scanNote(s.pool.QueryRow(ctx, `
		UPDATE zettel SET geschlossen = TRUE, geschlossen_am = $3
		WHERE id = $1 AND sitzung_id = $2 AND NOT geschlossen
		RETURNING `+noteColumns,
		noteID, sessionID, at,
	))
	if err == nil {
		return &note, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to close note: %w", err)
	}

	note, err = scanNote(s.pool.QueryRow(ctx,
		`SELECT `+noteColumns+` FROM zettel WHERE id = $1 AND sitzung_id = $2`, noteID, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.sessionExists(ctx, sessionID); err != nil {
			return nil, false, err
		}
		return nil, false, domain.ErrNoteNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load note: %w", err)
	}
	return &note, false, nil
}

func (s *Store) ListNotes(ctx context.Context, sessionID uuid.UUID, filter domain.NoteFilter) ([]domain.Note, error) {
	if err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	var recipient *string
	if filter.Recipient != "" && filter.Recipient != domain.RecipientAlle {
		r := string(filter.Recipient)
		recipient = &r
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+noteColumns+` FROM zettel
		WHERE sitzung_id = $1
		  AND ($2 OR NOT geschlossen)
		  AND ($3::text IS NULL OR typ = $3 OR typ = $4)
		ORDER BY zeitstempel, id`,
		sessionID, filter.IncludeClosed, recipient, string(domain.RecipientAlle),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Note, error) {
		return scanNote(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan notes: %w", err)
	}
	return notes, nil
}

func (s *Store) sessionExists(ctx context.Context, sessionID uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sitzungen WHERE id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return domain.ErrSessionNotFound
	}
	return nil
}
