package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatbot-app/internal/domain"
)

type mockMessageRepo struct {
	mu        sync.Mutex
	created   []domain.NewMessage
	createErr error
	// failBot hace fallar sólo las escrituras de mensajes del bot.
	failBot  error
	listData []domain.Message
	listErr  error
	lastChat string
	seq      int
}

func (m *mockMessageRepo) Create(_ context.Context, message domain.NewMessage) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return domain.Message{}, m.createErr
	}
	if message.IsBot && m.failBot != nil {
		return domain.Message{}, m.failBot
	}
	m.created = append(m.created, message)
	m.seq++
	return domain.Message{
		ID:        fmt.Sprintf("m%d", m.seq),
		ChatID:    message.ChatID,
		Content:   message.Content,
		IsBot:     message.IsBot,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, m.seq, 0, time.UTC),
	}, nil
}

func (m *mockMessageRepo) ListByChatID(_ context.Context, chatID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastChat = chatID
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Message(nil), m.listData...), nil
}

func (m *mockMessageRepo) createdSnapshot() []domain.NewMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.NewMessage(nil), m.created...)
}

type mockChatRepo struct {
	mu         sync.Mutex
	touched    []string
	touchErr   error
	lastTitle  string
	createErr  error
	listData   []domain.Chat
	listErr    error
	nextChatID string
}

func (m *mockChatRepo) List(_ context.Context) ([]domain.Chat, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Chat(nil), m.listData...), nil
}

func (m *mockChatRepo) Create(_ context.Context, title string) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTitle = title
	if m.createErr != nil {
		return domain.Chat{}, m.createErr
	}
	id := m.nextChatID
	if id == "" {
		id = "c-new"
	}
	return domain.Chat{ID: id, Title: title}, nil
}

func (m *mockChatRepo) Touch(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, chatID)
	return m.touchErr
}

type mockDelegator struct {
	result domain.ActionResult
	err    error
	calls  []string
}

func (m *mockDelegator) Delegate(_ context.Context, chatID, content string) (domain.ActionResult, error) {
	m.calls = append(m.calls, chatID+":"+content)
	return m.result, m.err
}
