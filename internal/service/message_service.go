package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/repository"
)

// MessageService encapsula el alta de mensajes y la actualización del chat asociado.
type MessageService struct {
	repo   repository.MessageRepository
	chats  repository.ChatRepository
	logger *zap.Logger
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrMessageInvalidInput         = errors.New("message invalid input")
)

// AppendResult separa las dos escrituras del alta: el mensaje ya quedó guardado
// aunque TouchErr indique que updated_at no se pudo actualizar.
type AppendResult struct {
	Message  domain.Message
	TouchErr error
}

func NewMessageService(repo repository.MessageRepository, chats repository.ChatRepository, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{repo: repo, chats: chats, logger: logger}
}

// Append inserta el mensaje y luego, best effort, actualiza el updated_at del chat.
func (s *MessageService) Append(ctx context.Context, msg domain.NewMessage) (AppendResult, error) {
	if s == nil || s.repo == nil {
		return AppendResult{}, ErrMessageServiceNotConfigured
	}

	msg.ChatID = strings.TrimSpace(msg.ChatID)
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.ChatID == "" || msg.Content == "" {
		return AppendResult{}, ErrMessageInvalidInput
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		return AppendResult{}, err
	}
	if created.ChatID == "" {
		created.ChatID = msg.ChatID
	}

	return AppendResult{Message: created, TouchErr: s.Touch(ctx, msg.ChatID)}, nil
}

// Touch actualiza updated_at del chat. El error se registra y se devuelve, nunca es fatal.
func (s *MessageService) Touch(ctx context.Context, chatID string) error {
	if s.chats == nil {
		return nil
	}
	if err := s.chats.Touch(ctx, chatID); err != nil {
		s.logger.Warn("chat timestamp update failed", zap.String("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

func (s *MessageService) List(ctx context.Context, chatID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return []domain.Message{}, nil
	}
	messages, err := s.repo.ListByChatID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	domain.SortMessages(messages)
	return messages, nil
}
