package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const itemColumns = `id, sitzung_id, nummer, name, typ, einzug_cd, auszug_cd, trainer, betreuer,
	namensliste, anmoderation, abmoderation, notizen, dauer, pinboard_notes, buehne, erstellt`

const insertItemSQL = `INSERT INTO programmpunkte (` + itemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

const updateItemSQL = `UPDATE programmpunkte SET
	name = $3, typ = $4, einzug_cd = $5, auszug_cd = $6, trainer = $7, betreuer = $8,
	namensliste = $9, anmoderation = $10, abmoderation = $11, notizen = $12, dauer = $13,
	pinboard_notes = $14, buehne = $15
	WHERE id = $1 AND sitzung_id = $2`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// itemArgs encodes an item for insertItemSQL. List fields are stored as JSON text.
func itemArgs(item domain.Item) ([]any, error) {
	namensliste, pinboard, err := encodeLists(item)
	if err != nil {
		return nil, err
	}
	return []any{
		item.ID, item.SessionID, item.Nummer, item.Name, string(item.Typ), item.EinzugCD, item.AuszugCD,
		item.Trainer, item.Betreuer, namensliste, item.Anmoderation, item.Abmoderation, item.Notizen,
		item.Dauer, pinboard, item.Buehne, item.CreatedAt,
	}, nil
}

func encodeLists(item domain.Item) (namensliste, pinboard string, err error) {
	names := item.Namensliste
	if names == nil {
		names = []string{}
	}
	notes := item.PinboardNotes
	if notes == nil {
		notes = []domain.PinboardNote{}
	}

	n, err := json.Marshal(names)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode namensliste: %w", err)
	}
	p, err := json.Marshal(notes)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode pinboard notes: %w", err)
	}
	return string(n), string(p), nil
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var (
		item        domain.Item
		typ         string
		namensliste string
		pinboard    string
	)
	err := row.Scan(
		&item.ID, &item.SessionID, &item.Nummer, &item.Name, &typ, &item.EinzugCD, &item.AuszugCD,
		&item.Trainer, &item.Betreuer, &namensliste, &item.Anmoderation, &item.Abmoderation, &item.Notizen,
		&item.Dauer, &pinboard, &item.Buehne, &item.CreatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}

	item.Typ = domain.ItemType(typ)
	// Malformed list columns degrade to empty lists rather than failing the whole read.
	if err := json.Unmarshal([]byte(namensliste), &item.Namensliste); err != nil {
		item.Namensliste = nil
	}
	if err := json.Unmarshal([]byte(pinboard), &item.PinboardNotes); err != nil {
		item.PinboardNotes = nil
	}
	if len(item.Namensliste) == 0 {
		item.Namensliste = nil
	}
	if len(item.PinboardNotes) == 0 {
		item.PinboardNotes = nil
	}
	return item, nil
}

func (s *Store) queryItems(ctx context.Context, q querier, sql string, args ...any) ([]domain.Item, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Item, error) {
		return scanItem(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	return items, nil
}

func (s *Store) AddItem(ctx context.Context, item domain.Item, insertAfter *int) (*domain.Item, error) {
	err := s.inSessionTx(ctx, item.SessionID, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM programmpunkte WHERE sitzung_id = $1`, item.SessionID,
		).Scan(&count); err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}

		item.Nummer = domain.InsertPosition(count, insertAfter)
		if item.Nummer <= count {
			if _, err := tx.Exec(ctx,
				`UPDATE programmpunkte SET nummer = nummer + 1 WHERE sitzung_id = $1 AND nummer >= $2`,
				item.SessionID, item.Nummer,
			); err != nil {
				return fmt.Errorf("failed to shift items: %w", err)
			}
		}

		args, err := itemArgs(item)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertItemSQL, args...); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, sessionID, itemID uuid.UUID, patch domain.ItemPatch) (*domain.Item, error) {
	var updated domain.Item
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		item, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM programmpunkte WHERE id = $1 AND sitzung_id = $2 FOR UPDATE`,
			itemID, sessionID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}

		patch.Apply(&item)

		namensliste, pinboard, err := encodeLists(item)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateItemSQL,
			item.ID, item.SessionID, item.Name, string(item.Typ), item.EinzugCD, item.AuszugCD,
			item.Trainer, item.Betreuer, namensliste, item.Anmoderation, item.Abmoderation,
			item.Notizen, item.Dauer, pinboard, item.Buehne,
		); err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteItem(ctx context.Context, sessionID, itemID uuid.UUID) error {
	err := s.inSessionTx(ctx, sessionID, func(tx pgx.Tx) error {
		var nummer int
		err := tx.QueryRow(ctx,
			`DELETE FROM programmpunkte WHERE id = $1 AND sitzung_id = $2 RETURNING nummer`,
			itemID, sessionID,
		).Scan(&nummer)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE programmpunkte SET nummer = nummer - 1 WHERE sitzung_id = $1 AND nummer > $2`,
			sessionID, nummer,
		); err != nil {
			return fmt.Errorf("failed to shift items: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.ErrItemNotFound
	}
	return err
}

func (s *Store) ReorderItems(ctx context.Context, sessionID uuid.UUID, itemIDs []uuid.UUID) ([]domain.Item, error) {
	var items []domain.Item
	err := s.inSessionTx(ctx, sessionID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM programmpunkte WHERE sitzung_id = $1`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load item ids: %w", err)
		}
		current, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to scan item ids: %w", err)
		}

		if !isPermutation(current, itemIDs) {
			return domain.ErrInvalidOrder
		}

		ids := make([]string, len(itemIDs))
		for i, id := range itemIDs {
			ids[i] = id.String()
		}
		if _, err := tx.Exec(ctx, `
			UPDATE programmpunkte p SET nummer = o.ord::int
			FROM unnest($2::text[]) WITH ORDINALITY AS o(id, ord)
			WHERE p.sitzung_id = $1 AND p.id = o.id::uuid`,
			sessionID, ids,
		); err != nil {
			return fmt.Errorf("failed to renumber items: %w", err)
		}

		items, err = s.queryItems(ctx, tx,
			`SELECT `+itemColumns+` FROM programmpunkte WHERE sitzung_id = $1 ORDER BY nummer`, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func isPermutation(current, proposed []uuid.UUID) bool {
	if len(current) != len(proposed) {
		return false
	}
	remaining := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		remaining[id] = struct{}{}
	}
	for _, id := range proposed {
		if _, ok := remaining[id]; !ok {
			return false
		}
		delete(remaining, id)
	}
	return true
}
