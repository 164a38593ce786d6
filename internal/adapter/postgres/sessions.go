package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	created := session
	created.Items = make([]domain.Item, len(session.Items))

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sitzungen (id, name, erstellt) VALUES ($1, $2, $3)`,
			session.ID, session.Name, session.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if len(session.Items) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, item := range session.Items {
			item.SessionID = session.ID
			item.Nummer = i + 1
			args, err := itemArgs(item)
			if err != nil {
				return err
			}
			batch.Queue(insertItemSQL, args...)
			created.Items[i] = item
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, erstellt FROM sitzungen ORDER BY erstellt DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Session, error) {
		var session domain.Session
		err := row.Scan(&session.ID, &session.Name, &session.CreatedAt)
		return session, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	items, err := s.queryItems(ctx, s.pool, `SELECT `+itemColumns+` FROM programmpunkte ORDER BY sitzung_id, nummer`)
	if err != nil {
		return nil, err
	}

	bySession := make(map[uuid.UUID][]domain.Item)
	for _, item := range items {
		bySession[item.SessionID] = append(bySession[item.SessionID], item)
	}
	for i := range sessions {
		sessions[i].Items = bySession[sessions[i].ID]
	}
	return sessions, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	var session domain.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, erstellt FROM sitzungen WHERE id = $1`, sessionID,
	).Scan(&session.ID, &session.Name, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.Items, err = s.queryItems(ctx, s.pool,
		`SELECT `+itemColumns+` FROM programmpunkte WHERE sitzung_id = $1 ORDER BY nummer`, sessionID)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) RenameSession(ctx context.Context, sessionID uuid.UUID, name string) (*domain.Session, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE sitzungen SET name = $2 WHERE id = $1`, sessionID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var wasActive bool
	err := s.inSessionTx(ctx, sessionID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sitzungen WHERE id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM einstellungen WHERE key = $1 AND value = $2`,
			domain.SettingActiveSession, sessionID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to clear active session: %w", err)
		}
		wasActive = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return wasActive, nil
}
