package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatbot-app/internal/domain"
)

// PgMessageRepository lee y escribe mensajes de los chats de un usuario.
type PgMessageRepository struct {
	pool   *pgxpool.Pool
	userID string
}

func NewPgMessageRepository(pool *pgxpool.Pool, userID string) *PgMessageRepository {
	return &PgMessageRepository{pool: pool, userID: userID}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.NewMessage) (domain.Message, error) {
	const query = `
		INSERT INTO messages (id, chat_id, user_id, content, is_bot, created_at)
		SELECT $1, c.id, $3, $4, $5, $6
		FROM chats c
		WHERE c.id = $2 AND c.user_id = $7
	`

	msg := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    message.ChatID,
		Content:   message.Content,
		IsBot:     message.IsBot,
		CreatedAt: time.Now().UTC(),
	}

	var userID interface{}
	if !message.IsBot {
		msg.UserID = r.userID
		userID = r.userID
	}

	tag, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.ChatID,
		userID,
		msg.Content,
		msg.IsBot,
		msg.CreatedAt,
		r.userID,
	)
	if err != nil {
		return domain.Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Message{}, ErrChatNotFound
	}
	return msg, nil
}

func (r *PgMessageRepository) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	const query = `
		SELECT m.id, m.chat_id, m.user_id, m.content, m.is_bot, m.created_at
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE m.chat_id = $1 AND c.user_id = $2
		ORDER BY m.created_at ASC, m.id ASC
	`

	rows, err := r.pool.Query(ctx, query, chatID, r.userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		var userIDValue *string

		err = rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&userIDValue,
			&msg.Content,
			&msg.IsBot,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if userIDValue != nil {
			msg.UserID = *userIDValue
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
