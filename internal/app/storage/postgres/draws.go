package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/draw"
)

const drawMessageColumns = `id, number, title, body, created_at`

const drawHistoryColumns = `id, identity, draw_date, message_id, number, created_at`

func (s *Store) UpsertDrawMessage(ctx context.Context, m draw.Message) (draw.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.db.GetContext(ctx, &m.CreatedAt, `
		INSERT INTO draw_messages (`+drawMessageColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET number = EXCLUDED.number, title = EXCLUDED.title, body = EXCLUDED.body
		RETURNING created_at
	`, m.ID, m.Number, m.Title, m.Body, time.Now().UTC())
	if err != nil {
		return draw.Message{}, mapErr("draw message", m.ID, err)
	}
	return m, nil
}

func (s *Store) GetDrawMessage(ctx context.Context, id string) (draw.Message, error) {
	var m draw.Message
	if err := s.db.GetContext(ctx, &m, `SELECT `+drawMessageColumns+` FROM draw_messages WHERE id = $1`, id); err != nil {
		return draw.Message{}, mapErr("draw message", id, err)
	}
	return m, nil
}

func (s *Store) ListDrawMessages(ctx context.Context, number int) ([]draw.Message, error) {
	var out []draw.Message
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+drawMessageColumns+` FROM draw_messages WHERE number = $1 ORDER BY id
	`, number)
	return out, err
}

func (s *Store) GetDrawHistory(ctx context.Context, identity string, day time.Time) (draw.HistoryEntry, error) {
	var e draw.HistoryEntry
	err := s.db.GetContext(ctx, &e, `
		SELECT `+drawHistoryColumns+` FROM draw_history WHERE identity = $1 AND draw_date = $2
	`, identity, draw.DateKey(day))
	if err != nil {
		return draw.HistoryEntry{}, mapErr("draw history", identity+"|"+draw.DateKey(day), err)
	}
	return e, nil
}

func (s *Store) CreateDrawHistory(ctx context.Context, e draw.HistoryEntry) (draw.HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draw_history (`+drawHistoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Identity, draw.DateKey(e.DrawDate), e.MessageID, e.Number, e.CreatedAt)
	if err != nil {
		return draw.HistoryEntry{}, mapErr("draw history", e.Identity+"|"+draw.DateKey(e.DrawDate), err)
	}
	return e, nil
}

func (s *Store) ListDrawHistory(ctx context.Context, identity string, limit int) ([]draw.HistoryEntry, error) {
	var out []draw.HistoryEntry
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+drawHistoryColumns+`
		FROM draw_history
		WHERE identity = $1
		ORDER BY draw_date DESC
		LIMIT $2
	`, identity, limitOrAll(limit))
	return out, err
}
