package repository

import (
	"context"
	"errors"

	"chatbot-app/internal/domain"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrEmptyResult  = errors.New("empty result from backend")
)

type ChatRepository interface {
	List(ctx context.Context) ([]domain.Chat, error)
	Create(ctx context.Context, title string) (domain.Chat, error)
	// Touch actualiza updated_at; es una escritura independiente del alta del mensaje.
	Touch(ctx context.Context, chatID string) error
}

type MessageRepository interface {
	ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error)
	Create(ctx context.Context, message domain.NewMessage) (domain.Message, error)
}

// CachedChatLister expone la última lista de chats conocida sin ir a la red.
type CachedChatLister interface {
	CachedList() ([]domain.Chat, bool)
}

// CachedMessageLister expone la última transcripción conocida de un chat sin ir a la red.
type CachedMessageLister interface {
	CachedByChatID(chatID string) ([]domain.Message, bool)
}
