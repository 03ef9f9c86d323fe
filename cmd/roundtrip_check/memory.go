package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatbot-app/internal/domain"
	"chatbot-app/internal/repository"
)

// --- repos en memoria para --offline ---

type memoryStore struct {
	mu       sync.Mutex
	chats    map[string]domain.Chat
	messages map[string][]domain.Message
	now      func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type memoryChatRepo struct{ s *memoryStore }

type memoryMessageRepo struct {
	s      *memoryStore
	userID string
}

var (
	_ repository.ChatRepository    = memoryChatRepo{}
	_ repository.MessageRepository = memoryMessageRepo{}
)

func (r memoryChatRepo) List(ctx context.Context) ([]domain.Chat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Chat, 0, len(r.s.chats))
	for id, c := range r.s.chats {
		if msgs := r.s.messages[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		out = append(out, c)
	}
	return out, nil
}

func (r memoryChatRepo) Create(ctx context.Context, title string) (domain.Chat, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	chat := domain.Chat{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}
	r.s.chats[chat.ID] = chat
	return chat, nil
}

func (r memoryChatRepo) Touch(ctx context.Context, chatID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chats[chatID]
	if !ok {
		return repository.ErrChatNotFound
	}
	c.UpdatedAt = r.s.now()
	r.s.chats[chatID] = c
	return nil
}

func (r memoryMessageRepo) ListByChatID(ctx context.Context, chatID string) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]domain.Message(nil), r.s.messages[chatID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memoryMessageRepo) Create(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.chats[msg.ChatID]; !ok {
		return domain.Message{}, repository.ErrChatNotFound
	}
	m := domain.Message{
		ID:        uuid.NewString(),
		ChatID:    msg.ChatID,
		UserID:    r.userID,
		Content:   msg.Content,
		IsBot:     msg.IsBot,
		CreatedAt: r.s.now(),
	}
	r.s.messages[msg.ChatID] = append(r.s.messages[msg.ChatID], m)
	return m, nil
}
