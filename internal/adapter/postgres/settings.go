package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const upsertSettingSQL = `INSERT INTO einstellungen (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

func (s *Store) SetActiveSession(ctx context.Context, sessionID *uuid.UUID) error {
	if sessionID == nil {
		if _, err := s.pool.Exec(ctx, `DELETE FROM einstellungen WHERE key = $1`, domain.SettingActiveSession); err != nil {
			return fmt.Errorf("failed to clear active session: %w", err)
		}
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// FOR SHARE blocks a concurrent DeleteSession until the pointer is written.
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM sitzungen WHERE id = $1 FOR SHARE`, *sessionID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}

		if _, err := tx.Exec(ctx, upsertSettingSQL, domain.SettingActiveSession, id.String()); err != nil {
			return fmt.Errorf("failed to set active session: %w", err)
		}
		return nil
	})
}

func (s *Store) GetActiveSession(ctx context.Context) (*uuid.UUID, error) {
	raw, err := s.GetSetting(ctx, domain.SettingActiveSession)
	if errors.Is(err, domain.ErrSettingNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	return &id, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM einstellungen WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) CreateSetting(ctx context.Context, key, value string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO einstellungen (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to create setting %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.pool.Exec(ctx, upsertSettingSQL, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
