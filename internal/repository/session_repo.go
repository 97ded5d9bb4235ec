package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"featherine-chat/internal/domain"
)

// SessionRepository persiste sesiones archivadas en el backend remoto.
type SessionRepository interface {
	Insert(ctx context.Context, session domain.Session) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Session, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// PgSessionRepository implementa SessionRepository sobre la tabla chat_sessions.
type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Insert(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO chat_sessions (id, messages, user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	var userID interface{}
	if session.OwnerID != "" {
		userID = session.OwnerID
	}

	_, err = r.pool.Exec(ctx, query,
		session.ID,
		messages,
		userID,
		session.CreatedAt,
	)
	return err
}

func (r *PgSessionRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Session, error) {
	const query = `
		SELECT id, messages, user_id, created_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		var (
			s        domain.Session
			messages []byte
			userID   *string
		)
		if err := rows.Scan(&s.ID, &messages, &userID, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(messages, &s.Messages); err != nil {
			return nil, fmt.Errorf("decode session %s messages: %w", s.ID, err)
		}
		if userID != nil {
			s.OwnerID = *userID
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *PgSessionRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	const query = `DELETE FROM chat_sessions WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, query, ownerID)
	return err
}
