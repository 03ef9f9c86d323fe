package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-app/internal/domain"
)

// PgChatRepository acota cada operación a los chats del usuario dueño.
type PgChatRepository struct {
	pool   *pgxpool.Pool
	userID string
}

func NewPgChatRepository(pool *pgxpool.Pool, userID string) *PgChatRepository {
	return &PgChatRepository{pool: pool, userID: userID}
}

func (r *PgChatRepository) Create(ctx context.Context, title string) (domain.Chat, error) {
	const query = `
		INSERT INTO chats (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	now := time.Now().UTC()
	chat := domain.Chat{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := r.pool.Exec(ctx, query,
		chat.ID,
		r.userID,
		chat.Title,
		now,
	)
	if err != nil {
		return domain.Chat{}, err
	}
	return chat, nil
}

func (r *PgChatRepository) List(ctx context.Context) ([]domain.Chat, error) {
	const query = `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       lm.id, lm.content, lm.is_bot, lm.created_at
		FROM chats c
		LEFT JOIN LATERAL (
			SELECT m.id, m.content, m.is_bot, m.created_at
			FROM messages m
			WHERE m.chat_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON true
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query, r.userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]domain.Chat, 0)
	for rows.Next() {
		var chat domain.Chat
		var (
			lastID        *string
			lastContent   *string
			lastIsBot     *bool
			lastCreatedAt *time.Time
		)
		err = rows.Scan(
			&chat.ID,
			&chat.Title,
			&chat.CreatedAt,
			&chat.UpdatedAt,
			&lastID,
			&lastContent,
			&lastIsBot,
			&lastCreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if lastID != nil {
			chat.LastMessage = &domain.Message{
				ID:        *lastID,
				ChatID:    chat.ID,
				Content:   derefString(lastContent),
				IsBot:     lastIsBot != nil && *lastIsBot,
				CreatedAt: derefTime(lastCreatedAt),
			}
		}
		chats = append(chats, chat)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *PgChatRepository) Touch(ctx context.Context, chatID string) error {
	const query = `
		UPDATE chats SET updated_at = now()
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, chatID, r.userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
