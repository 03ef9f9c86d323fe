package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/repository"
)

var ErrChatServiceNotConfigured = errors.New("chat service not configured")

// ChatService crea y lista los chats del usuario.
type ChatService struct {
	repo   repository.ChatRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewChatService(repo repository.ChatRepository, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{repo: repo, logger: logger, now: time.Now}
}

// DefaultChatTitle arma el título por defecto con la fecha en formato M/D/YYYY.
func DefaultChatTitle(t time.Time) string {
	return fmt.Sprintf("Chat %d/%d/%d", int(t.Month()), t.Day(), t.Year())
}

// Create crea un chat; con título vacío usa DefaultChatTitle. El ID lo asigna el backend.
func (s *ChatService) Create(ctx context.Context, title string) (domain.Chat, error) {
	if s == nil || s.repo == nil {
		return domain.Chat{}, ErrChatServiceNotConfigured
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultChatTitle(s.now())
	}

	chat, err := s.repo.Create(ctx, title)
	if err != nil {
		s.logger.Warn("create chat failed", zap.String("title", title), zap.Error(err))
		return domain.Chat{}, err
	}
	s.logger.Info("chat created", zap.String("chat_id", chat.ID))
	return chat, nil
}

func (s *ChatService) List(ctx context.Context) ([]domain.Chat, error) {
	if s == nil || s.repo == nil {
		return nil, ErrChatServiceNotConfigured
	}
	chats, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	domain.SortChats(chats)
	return chats, nil
}
